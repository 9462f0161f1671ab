// Command authplane-migrate applies the embedded Postgres schema
// migrations. The database DSN comes from the AUTHPLANE_DATABASE_URL
// environment variable or an optional config file.
//
// Usage:
//
//	AUTHPLANE_DATABASE_URL=postgres://... authplane-migrate up
//	authplane-migrate -config authplane.yaml down
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/vaultline/authplane/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	flag.Parse()

	direction := flag.Arg(0)
	if direction == "" {
		direction = "up"
	}

	v := viper.New()
	v.SetEnvPrefix("authplane")
	v.AutomaticEnv()
	v.SetDefault("database_url", "")

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
			os.Exit(1)
		}
	}

	dsn := v.GetString("database_url")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "database_url is required (AUTHPLANE_DATABASE_URL or config file)")
		os.Exit(2)
	}

	if err := postgres.Migrate(dsn, direction); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", direction, err)
		os.Exit(1)
	}
	fmt.Printf("migrations %s: ok\n", direction)
}
