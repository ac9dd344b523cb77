package config

// Deployment environments (server.environment).
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// IsProductionLike reports whether environment forbids development
// fallbacks such as in-memory storage or localhost dependencies.
func IsProductionLike(environment string) bool {
	return environment == EnvStaging || environment == EnvProduction
}
