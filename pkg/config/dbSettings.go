package config

// DbSettings holds configuration for the event store backend.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=postgres mongo spanner"`
	DSN        string `mapstructure:"dsn"`        // postgres connection string
	URI        string `mapstructure:"uri"`        // mongo URI or spanner database path
	DBName     string `mapstructure:"db_name"`    // mongo database name
	Collection string `mapstructure:"collection"` // mongo collection name
}
