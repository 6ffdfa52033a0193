package config

import (
	"strconv"
	"strings"
)

// ApplyEnv overlays environment variables. lookup is usually os.Getenv.
func (c *Config) ApplyEnv(lookup func(string) string) {
	setString(&c.Database.URL, lookup("DATABASE_URL"))
	setString(&c.Server.APIKey, lookup("API_KEY"))
	setInt(&c.Server.Port, lookup("PORT"))
	if origins := splitList(lookup("CORS_ORIGINS")); len(origins) > 0 {
		c.Server.CORSOrigins = origins
	}
	setBool(&c.Server.RateLimit.Enabled, lookup("RATE_LIMIT_ENABLED"))
	setInt(&c.Server.RateLimit.UploadsPerMinute, lookup("RATE_LIMIT_UPLOADS_PER_MINUTE"))
	if ips := splitList(lookup("RATE_LIMIT_WHITELIST")); len(ips) > 0 {
		c.Server.RateLimit.Whitelist = ips
	}

	setString(&c.Storage.Mode, lookup("STORAGE_MODE"))
	setString(&c.Storage.Bucket, lookup("GCS_BUCKET_NAME"))
	setString(&c.Storage.EmulatorHost, lookup("STORAGE_EMULATOR_HOST"))
	setString(&c.Storage.LocalDir, lookup("LOCAL_STORAGE_DIR"))

	setString(&c.Extraction.APIKey, lookup("GEMINI_API_KEY"))
	setString(&c.Extraction.Model, lookup("GEMINI_MODEL"))
	setString(&c.Extraction.CredentialsFile, lookup("GOOGLE_APPLICATION_CREDENTIALS"))
	setString(&c.Extraction.CredentialsJSON, lookup("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if fields := splitList(lookup("EXTRACTION_FIELDS")); len(fields) > 0 {
		c.Extraction.Fields = fields
	}

	setInt(&c.Jobs.MaxConcurrent, lookup("JOBS_MAX_CONCURRENT"))
	setInt(&c.Jobs.TimeoutSeconds, lookup("JOBS_TIMEOUT_SECONDS"))

	setString(&c.Logging.Mode, lookup("LOG_MODE"))

	setBool(&c.Tracing.Enabled, lookup("OTEL_ENABLED"))
	setString(&c.Tracing.Endpoint, lookup("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setBool(&c.Tracing.Insecure, lookup("OTEL_EXPORTER_OTLP_INSECURE"))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, v string) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
