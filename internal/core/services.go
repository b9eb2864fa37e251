package core

type Services struct {
	Settings          *SettingsService
	BackupRun         *BackupRunService
	FileState         *FileStateService
	DatabaseBackupRun *DatabaseBackupRunService
	Admin             *AdminService
}

func NewServices(db DB) *Services {
	return &Services{
		Settings:          NewSettingsService(db),
		BackupRun:         NewBackupRunService(db),
		FileState:         NewFileStateService(db),
		DatabaseBackupRun: NewDatabaseBackupRunService(db),
		Admin:             NewAdminService(db),
	}
}
