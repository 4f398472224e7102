package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Writes a synthetic dataset in the layout cmd/train expects. The two classes
// differ in brightness and texture so a freshly trained head can separate them;
// the images are only meant for smoke-testing the pipeline.
func main() {
	var (
		dataPath = flag.String("data", "data/sample", "Output directory")
		perClass = flag.Int("per-class", 50, "Images per class")
		size     = flag.Int("size", 96, "Image width and height")
		testFrac = flag.Float64("test", 0.2, "Fraction written to a separate test/ tree")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	fmt.Printf("Generating sample dataset...\n")
	fmt.Printf("  Images per class: %d\n", *perClass)
	fmt.Printf("  Size: %dx%d\n", *size, *size)
	fmt.Printf("  Data Path: %s\n", *dataPath)

	rng := rand.New(rand.NewSource(*seed))
	nTest := int(float64(*perClass) * *testFrac)

	for _, class := range []string{"female", "male"} {
		for i := 0; i < *perClass; i++ {
			split := "train"
			if i < nTest {
				split = "test"
			}
			dir := filepath.Join(*dataPath, split, class)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("Failed to create %s: %v", dir, err)
			}

			img := generateImage(rng, class, *size)
			// mix encodings so the decoder paths get exercised
			name := fmt.Sprintf("%s_%04d", class, i)
			if i%2 == 0 {
				err := writePNG(filepath.Join(dir, name+".png"), img)
				if err != nil {
					log.Fatalf("Failed to write image: %v", err)
				}
			} else if err := writeJPEG(filepath.Join(dir, name+".jpg"), img); err != nil {
				log.Fatalf("Failed to write image: %v", err)
			}
		}
	}

	fmt.Printf("✓ Generated %d images per class (%d held out for test)\n", *perClass, nTest)
}

func generateImage(rng *rand.Rand, class string, size int) *image.RGBA {
	base, stripe := 70.0, 0
	if class == "male" {
		base, stripe = 170.0, 8
	}
	base += rng.NormFloat64() * 12

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := base + rng.NormFloat64()*10
			if stripe > 0 && (y/stripe)%2 == 0 {
				v += 25
			}
			c := clamp(v)
			img.Set(x, y, color.RGBA{c, clamp(v * 0.9), clamp(v * 0.8), 255})
		}
	}
	return img
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}
