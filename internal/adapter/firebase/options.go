package firebase

import "github.com/couchcryptid/soil-telemetry-service/internal/config"

// OptionsFromConfig maps service configuration onto client options, loading
// service-account credentials when configured.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	creds, err := cfg.Credentials()
	if err != nil {
		return Options{}, err
	}
	return Options{
		DatabaseURL:     cfg.FirebaseDatabaseURL,
		ProjectID:       cfg.FirebaseProjectID,
		Path:            cfg.FirebaseDataPath,
		CredentialsJSON: creds,
		AuthToken:       cfg.FirebaseAuthToken,
		Timeout:         cfg.FirebaseTimeout,
		MaxRetries:      cfg.FirebaseMaxRetries,
	}, nil
}
