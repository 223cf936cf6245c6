package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Node struct {
	// DataDir holds the Pebble database and log files.
	DataDir string

	// APIAddr is the listen address of the REST/WebSocket server.
	APIAddr string

	// LogFile receives structured logs alongside stdout.
	LogFile string
}

type Chain struct {
	// BorrowAsset is the asset id minted against vault collateral.
	// Defaults to 1, the first issued asset; 0 is the native currency.
	BorrowAsset uint64

	// AdminAddress is the root origin: the only address allowed to set
	// vault positions and report oracle prices.
	AdminAddress string
}

type Config struct {
	Node  Node
	Chain Chain
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir: "data",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
		Chain: Chain{
			BorrowAsset:  1,
			AdminAddress: "0x0000000000000000000000000000000000000001",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Optional .env file
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Node.LogFile = file
	}

	if raw := os.Getenv("BORROW_ASSET"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.Chain.BorrowAsset = id
		}
	}
	if admin := os.Getenv("ADMIN_ADDRESS"); admin != "" {
		cfg.Chain.AdminAddress = admin
	}

	return cfg
}
