package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/photovault/internal/model"
)

var validate = validator.New()

// SettingsService resolves the loosely-typed backup rows in app_settings
// into an immutable BackupConfiguration, validated once per run.
type SettingsService struct {
	db DB
}

func NewSettingsService(db DB) *SettingsService {
	return &SettingsService{db: db}
}

// Setting keys as stored in app_settings (setting_type = 'backup').
const (
	SettingEnabled         = "backup_enabled"
	SettingDestinationType = "backup_destination_type"
	SettingSchedule        = "backup_schedule"
	SettingIncremental     = "backup_incremental"
	SettingIncludeArchived = "backup_include_archived"
	SettingIncludeDatabase = "backup_include_database"
	SettingMaxFileSizeMB   = "backup_max_file_size_mb"
	SettingManifestFormat  = "backup_manifest_format"
	SettingEmailOnFailure  = "backup_email_on_failure"
	SettingRetentionDays   = "backup_retention_days"

	SettingLocalPath = "backup_local_path"

	SettingRsyncHost       = "backup_rsync_host"
	SettingRsyncUser       = "backup_rsync_user"
	SettingRsyncPath       = "backup_rsync_path"
	SettingRsyncPort       = "backup_rsync_port"
	SettingRsyncSSHKeyPath = "backup_rsync_ssh_key_path"

	SettingS3Bucket       = "backup_s3_bucket"
	SettingS3Region       = "backup_s3_region"
	SettingS3Endpoint     = "backup_s3_endpoint"
	SettingS3AccessKey    = "backup_s3_access_key"
	SettingS3SecretKey    = "backup_s3_secret_key"
	SettingS3PathStyle    = "backup_s3_path_style"
	SettingS3UseTLS       = "backup_s3_use_tls"
	SettingS3MaxRetries   = "backup_s3_max_retries"
	SettingS3RetryDelayMS = "backup_s3_retry_delay_ms"
)

// LoadBackupConfiguration reads every setting_type='backup' row and folds it
// into a typed configuration. Unknown keys are ignored so the admin UI can
// grow settings without breaking older engines.
func (s *SettingsService) LoadBackupConfiguration(ctx context.Context) (*model.BackupConfiguration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT setting_key, setting_value FROM app_settings WHERE setting_type = 'backup'`)
	if err != nil {
		return nil, fmt.Errorf("load backup settings: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan backup setting: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup settings: %w", err)
	}

	cfg := &model.BackupConfiguration{
		Enabled:         parseBool(raw[SettingEnabled]),
		DestinationType: withDefault(raw[SettingDestinationType], model.DestinationLocal),
		Schedule:        withDefault(raw[SettingSchedule], "0 3 * * *"),
		Incremental:     parseBool(raw[SettingIncremental]),
		IncludeArchived: parseBool(raw[SettingIncludeArchived]),
		IncludeDatabase: parseBool(raw[SettingIncludeDatabase]),
		MaxFileSizeMB:   parseInt(raw[SettingMaxFileSizeMB], 0),
		ManifestFormat:  withDefault(raw[SettingManifestFormat], model.ManifestFormatJSON),
		EmailOnFailure:  parseBool(raw[SettingEmailOnFailure]),
		RetentionDays:   parseInt(raw[SettingRetentionDays], 90),

		LocalPath: raw[SettingLocalPath],

		RsyncHost:       raw[SettingRsyncHost],
		RsyncUser:       raw[SettingRsyncUser],
		RsyncPath:       raw[SettingRsyncPath],
		RsyncPort:       parseInt(raw[SettingRsyncPort], 22),
		RsyncSSHKeyPath: raw[SettingRsyncSSHKeyPath],

		S3Bucket:       raw[SettingS3Bucket],
		S3Region:       withDefault(raw[SettingS3Region], "us-east-1"),
		S3Endpoint:     raw[SettingS3Endpoint],
		S3AccessKey:    raw[SettingS3AccessKey],
		S3SecretKey:    raw[SettingS3SecretKey],
		S3PathStyle:    parseBool(raw[SettingS3PathStyle]),
		S3UseTLS:       raw[SettingS3UseTLS] == "" || parseBool(raw[SettingS3UseTLS]),
		S3MaxRetries:   parseInt(raw[SettingS3MaxRetries], 3),
		S3RetryDelayMS: parseInt(raw[SettingS3RetryDelayMS], 1000),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid backup configuration: %w", err)
	}

	// Destination completeness is deliberately not checked here: the
	// orchestrator validates after loading so a rejection still carries
	// the parsed configuration (and its notification opt-in) with it.
	return cfg, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func parseInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
