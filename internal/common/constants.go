package common

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvPort               = "PORT"
	EnvReadTimeout        = "READ_TIMEOUT"
	EnvWriteTimeout       = "WRITE_TIMEOUT"
	EnvModelDir           = "MODEL_DIR"
	EnvRegistryFile       = "REGISTRY_FILE"
	EnvDataPath           = "DATA_PATH"
	EnvIDColumn           = "ID_COLUMN"
	EnvLabelColumn        = "LABEL_COLUMN"
	EnvCostFN             = "COST_FN"
	EnvCostFP             = "COST_FP"
	EnvDatasetURL         = "DATASET_URL"
	EnvTestFraction       = "TEST_FRACTION"
	EnvSeed               = "SEED"
	EnvLearningRate       = "LEARNING_RATE"
	EnvIterations         = "ITERATIONS"
	EnvL2                 = "L2"
	EnvFetchTimeout       = "FETCH_TIMEOUT"
	EnvSerializeInference = "SERIALIZE_INFERENCE"
	EnvFallbackThreshold  = "FALLBACK_THRESHOLD"
	EnvONNXLibraryPath    = "ONNX_LIBRARY_PATH"
	EnvOcclusion          = "OCCLUSION_ATTRIBUTION"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogPretty          = "LOG_PRETTY"
	EnvReferenceLimit     = "REFERENCE_LIMIT"
	EnvMaxBodyBytes       = "MAX_BODY_BYTES"
)

// Configuration defaults
const (
	DefaultPort              = 8000
	DefaultModelDir          = "models"
	DefaultDataPath          = "data"
	DefaultCostFN            = 10.0
	DefaultCostFP            = 1.0
	DefaultDatasetURL        = "https://www.dropbox.com/scl/fi/ywb34b2q9dafx9ifkt10q/df_cleaned.csv?rlkey=s3f29j4267ef0h2qv77knula1&st=bfeef662&dl=0"
	DefaultTestFraction      = 0.2
	DefaultSeed              = 42
	DefaultLearningRate      = 0.1
	DefaultIterations        = 500
	DefaultL2                = 0.001
	DefaultFallbackThreshold = -1.0 // disabled: artifacts must carry their threshold
	DefaultLogLevel          = "info"
	DefaultReferenceLimit    = 500
	DefaultMaxBodyBytes      = 10 << 20
)

// Experiment tracking
const (
	ExperimentName = "Model_Retraining_Experiment"
	RunNamePrefix  = "Model_Retraining_"
)

// Validation constants
const (
	MinPort          = 1024
	MaxPort          = 65535
	MaxIterations    = 100000
	MaxReferenceRows = 100000
)
