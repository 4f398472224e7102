package common

// Class labels
const (
	LabelMale   = "Male"
	LabelFemale = "Female"
)

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvPort               = "PORT"
	EnvModelPath          = "MODEL_PATH"
	EnvBackbonePath       = "BACKBONE_PATH"
	EnvBackboneMetadata   = "BACKBONE_METADATA"
	EnvONNXLibraryPath    = "ONNX_LIBRARY_PATH"
	EnvCreateIfMissing    = "MODEL_CREATE_IF_MISSING"
	EnvLearningRate       = "LEARNING_RATE"
	EnvImageSize          = "IMAGE_SIZE"
	EnvStatsFile          = "STATS_FILE"
	EnvLedgerBackend      = "LEDGER_BACKEND"
	EnvCheckpointEvery    = "CHECKPOINT_EVERY"
	EnvKeepBackups        = "KEEP_BACKUPS"
	EnvSaveOnShutdown     = "SAVE_ON_SHUTDOWN"
	EnvHistoryFile        = "CHECKPOINT_HISTORY_FILE"
	EnvMaxUploadMB        = "MAX_UPLOAD_MB"
	EnvMaxImagePixels     = "MAX_IMAGE_PIXELS"
	EnvCORSOrigin         = "CORS_ORIGIN"
	EnvReadTimeout        = "READ_TIMEOUT"
	EnvWriteTimeout       = "WRITE_TIMEOUT"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogConsole         = "LOG_CONSOLE"
	EnvClassifierURL      = "CLASSIFIER_URL"
	EnvClassifierTimeout  = "CLASSIFIER_TIMEOUT"
	EnvStatsBroadcastTick = "STATS_BROADCAST_INTERVAL"
)

// Configuration defaults
const (
	DefaultPort               = 5000
	DefaultModelPath          = "gender_classification_model.json"
	DefaultStatsFile          = "model_stats.json"
	DefaultLedgerBackend      = "json"
	DefaultLearningRate       = 0.00001
	DefaultImageSize          = 224
	DefaultCheckpointEvery    = 10
	DefaultMaxUploadMB        = 10
	DefaultMaxImagePixels     = 178956970
	DefaultCORSOrigin         = "*"
	DefaultLogLevel           = "info"
	DefaultClassifierURL      = "http://localhost:5000"
	DefaultPoolGrid           = 16
	DefaultDecisionThreshold  = 0.5
	DefaultBackupTimeLayout   = "20060102_150405"
	DefaultCheckpointHistory  = "checkpoints.json"
	DefaultLedgerBoltFilename = "model_stats.db"
)

// Ledger backends
const (
	LedgerBackendJSON = "json"
	LedgerBackendBolt = "bolt"
)

// Validation constants
const (
	MinPort            = 1
	MaxPort            = 65535
	MinLearningRate    = 1e-9
	MaxLearningRate    = 1.0
	MinImageSize       = 8
	MaxImageSize       = 1024
	MaxCheckpointEvery = 100000
	MaxUploadMBLimit   = 100
	MinImagePixels     = 64 * 64
)
