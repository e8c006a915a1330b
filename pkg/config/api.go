package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment    string
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	JWTSecret      string
	TokenTTL       time.Duration
	OTPTTL         time.Duration
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	MailFrom       string
	StorageBackend string
	UploadDir      string
	MaxUploadBytes int64
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CORSOrigin     string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("API_ADDR", ":5000"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://inkpost:inkpost@db:5432/inkpost?sslmode=disable"),
		MigrationsDir:  GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:      GetString("JWT_SECRET", "supersecuresecret"),
		TokenTTL:       time.Duration(GetInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		OTPTTL:         time.Duration(GetInt("OTP_TTL_MINUTES", 10)) * time.Minute,
		SMTPHost:       GetString("SMTP_HOST", ""),
		SMTPPort:       GetInt("SMTP_PORT", 587),
		SMTPUser:       GetString("SMTP_USER", ""),
		SMTPPassword:   GetString("SMTP_PASSWORD", ""),
		MailFrom:       GetString("MAIL_FROM", "no-reply@inkpost.dev"),
		StorageBackend: GetString("STORAGE_BACKEND", "local"),
		UploadDir:      GetString("UPLOAD_DIR", "uploads"),
		MaxUploadBytes: int64(GetInt("MAX_UPLOAD_MB", 5)) << 20,
		S3Endpoint:     GetString("S3_ENDPOINT", ""),
		S3Region:       GetString("S3_REGION", "us-east-1"),
		S3Bucket:       GetString("S3_BUCKET", "inkpost-uploads"),
		S3AccessKey:    GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:    GetString("S3_SECRET_KEY", ""),
		S3PublicURL:    GetString("S3_PUBLIC_URL", ""),
		RedisAddr:      GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RedisPassword:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RedisDB:        GetInt("RATE_LIMIT_REDIS_DB", 0),
		CORSOrigin:     GetString("CORS_ALLOW_ORIGIN", "*"),
	}
}
