package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/catalogsync/importer/internal/domain"
)

// checkpointRow is the import_checkpoints table, one row per job
type checkpointRow struct {
	JobID              string    `gorm:"primaryKey;column:job_id"`
	RunID              string    `gorm:"column:run_id"`
	Source             string    `gorm:"column:source"`
	LastCommittedIndex int       `gorm:"column:last_committed_index;not null"`
	TotalRecords       int       `gorm:"column:total_records;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
	// Failures is stored as a JSON array
	Failures []domain.FailedRecord `gorm:"column:failures;type:text;serializer:json"`
}

func (checkpointRow) TableName() string {
	return "import_checkpoints"
}

// OpenPostgres connects gorm to a Postgres DSN
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// PostgresStore keeps checkpoints in a table; Save is a single-row upsert
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the checkpoint table if it is missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&checkpointRow{})
}

func (s *PostgresStore) Load(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckpointCorrupt, err)
	}
	if row.LastCommittedIndex < -1 || row.TotalRecords < 0 {
		return nil, fmt.Errorf("%w: invalid indices", domain.ErrCheckpointCorrupt)
	}
	return &domain.Checkpoint{
		JobID:              row.JobID,
		RunID:              row.RunID,
		Source:             row.Source,
		LastCommittedIndex: row.LastCommittedIndex,
		TotalRecords:       row.TotalRecords,
		UpdatedAt:          row.UpdatedAt,
		Failures:           row.Failures,
	}, nil
}

func (s *PostgresStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	row := checkpointRow{
		JobID:              cp.JobID,
		RunID:              cp.RunID,
		Source:             cp.Source,
		LastCommittedIndex: cp.LastCommittedIndex,
		TotalRecords:       cp.TotalRecords,
		UpdatedAt:          cp.UpdatedAt,
		Failures:           cp.Failures,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "source", "last_committed_index", "total_records", "updated_at", "failures"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&checkpointRow{}).Error
	if err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}
