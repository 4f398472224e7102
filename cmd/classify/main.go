package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gender-classifier/internal/client"
	"gender-classifier/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: classify [flags] <command> [args]

Commands:
  predict <image>                          predict the gender in an image
  feedback <image> <Male|Female> [guess]   teach the model the correct label
  stats                                    show learning statistics
  health                                   check the server
  save                                     checkpoint the model (creates a backup)
  checkpoints                              list checkpoint history
  interactive                              predict then confirm, one image per line (default)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	defaultURL := common.DefaultClassifierURL
	if v := os.Getenv(common.EnvClassifierURL); v != "" {
		defaultURL = v
	}
	defaultTimeout := 30 * time.Second
	if v, err := time.ParseDuration(os.Getenv(common.EnvClassifierTimeout)); err == nil {
		defaultTimeout = v
	}

	var (
		baseURL  = flag.String("url", defaultURL, "Classifier server URL")
		timeout  = flag.Duration("timeout", defaultTimeout, "Request timeout")
		logLevel = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
		yes      = flag.Bool("yes", false, "Skip the confirmation prompt for save")
	)
	flag.Usage = usage
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c := client.New(strings.TrimRight(*baseURL, "/"), *timeout)
	ctx := context.Background()

	args := flag.Args()
	cmd := "interactive"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "predict":
		requireArgs(args, 1)
		err = runPredict(ctx, c, args[0])
	case "feedback":
		requireArgs(args, 2)
		guess := ""
		if len(args) > 2 {
			guess = args[2]
		}
		err = runFeedback(ctx, c, args[0], args[1], guess)
	case "stats":
		err = runStats(ctx, c)
	case "health":
		err = runHealth(ctx, c)
	case "save":
		if !*yes && !confirm(bufio.NewReader(os.Stdin), os.Stdout, "Save the current model state? This will create a backup.") {
			fmt.Println("Cancelled.")
			return
		}
		err = runSave(ctx, c)
	case "checkpoints":
		err = runCheckpoints(ctx, c)
	case "interactive":
		err = runInteractive(ctx, c, os.Stdin, os.Stdout)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		os.Exit(1)
	}
}

func requireArgs(args []string, n int) {
	if len(args) < n {
		usage()
		os.Exit(2)
	}
}

func runPredict(ctx context.Context, c *client.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := c.Predict(ctx, path, data)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%.2f%% confidence)\n", res.Gender, res.Confidence)
	return nil
}

func runFeedback(ctx context.Context, c *client.Client, path, label, guess string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := c.Feedback(ctx, path, data, label, guess)
	if err != nil {
		return err
	}
	fmt.Printf("%s\nTotal feedback: %d, training loss: %.4f\n", res.Message, res.TotalFeedback, res.TrainingLoss)
	if res.Checkpoint != nil {
		fmt.Printf("Checkpoint written to %s\n", res.Checkpoint.Primary)
	}
	if res.CheckpointError != "" {
		fmt.Printf("Checkpoint failed: %s\n", res.CheckpointError)
	}
	return nil
}

func runStats(ctx context.Context, c *client.Client) error {
	st, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Total feedback:        %d\n", st.TotalFeedback)
	fmt.Printf("Correct predictions:   %d\n", st.CorrectPredictions)
	fmt.Printf("Incorrect predictions: %d\n", st.IncorrectPredictions)
	fmt.Printf("Accuracy:              %.2f%%\n", st.Accuracy)
	fmt.Printf("Online updates:        %d\n", st.OnlineTrainingCount)
	if st.LastUpdated != nil {
		fmt.Printf("Last updated:          %s\n", st.LastUpdated.Local().Format(time.DateTime))
	} else {
		fmt.Printf("Last updated:          never\n")
	}
	return nil
}

func runHealth(ctx context.Context, c *client.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s, model loaded: %v\n", h.Status, h.ModelLoaded)
	return nil
}

func runSave(ctx context.Context, c *client.Client) error {
	res, err := c.SaveModel(ctx)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if res.BackupCreated != nil {
		fmt.Printf("Backup created: %s\n", *res.BackupCreated)
	}
	return nil
}

func runCheckpoints(ctx context.Context, c *client.Client) error {
	res, err := c.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(res.Checkpoints) == 0 {
		fmt.Println("No checkpoints yet.")
		return nil
	}
	for _, e := range res.Checkpoints {
		backup := e.Backup
		if backup == "" {
			backup = "-"
		}
		fmt.Printf("%s  %-8s  updates=%-6d  backup=%s\n",
			e.At.Local().Format(time.DateTime), e.Reason, e.OnlineTrainingCount, backup)
	}
	return nil
}

// runInteractive reads image paths, predicts each one and asks whether the
// prediction was right. The answer is sent back as feedback.
func runInteractive(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "\nImage path (empty to quit): ")
		line, err := reader.ReadString('\n')
		path := strings.TrimSpace(line)
		if path == "" {
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			fmt.Fprintf(out, "Cannot read image: %v\n", rerr)
			if err != nil {
				return nil
			}
			continue
		}

		res, perr := c.Predict(ctx, path, data)
		if perr != nil {
			fmt.Fprintf(out, "Prediction failed: %v\n", perr)
			continue
		}
		fmt.Fprintf(out, "Prediction: %s (%.2f%% confidence)\n", res.Gender, res.Confidence)

		answer := prompt(reader, out, "Is this prediction correct? [y/n/s=skip]: ")
		var label string
		switch strings.ToLower(answer) {
		case "y", "yes":
			label = res.Gender
		case "n", "no":
			label = common.LabelMale
			if res.Gender == common.LabelMale {
				label = common.LabelFemale
			}
		default:
			continue
		}

		fb, ferr := c.Feedback(ctx, path, data, label, res.Gender)
		if ferr != nil {
			fmt.Fprintf(out, "Feedback failed: %v\n", ferr)
			continue
		}
		fmt.Fprintf(out, "%s (loss %.4f, total feedback %d)\n", fb.Message, fb.TrainingLoss, fb.TotalFeedback)

		if err != nil {
			return nil
		}
	}
}

func prompt(reader *bufio.Reader, out io.Writer, question string) string {
	fmt.Fprint(out, question)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirm(reader *bufio.Reader, out io.Writer, question string) bool {
	answer := strings.ToLower(prompt(reader, out, question+" [y/N]: "))
	return answer == "y" || answer == "yes"
}
