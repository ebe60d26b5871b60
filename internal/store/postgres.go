package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

type userModel struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Username  string    `gorm:"index;not null"`
	Rating    int       `gorm:"not null;default:1200"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (userModel) TableName() string { return "users" }

type gameModel struct {
	ID            string     `gorm:"primaryKey;type:text"`
	Status        string     `gorm:"type:varchar(32);index;not null"`
	Result        *string    `gorm:"type:varchar(16)"`
	StartAt       time.Time  `gorm:"not null"`
	WhitePlayerID string     `gorm:"index;not null"`
	WhitePlayer   userModel  `gorm:"foreignKey:WhitePlayerID"`
	BlackPlayerID *string    `gorm:"index"`
	BlackPlayer   *userModel `gorm:"foreignKey:BlackPlayerID"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

func (gameModel) TableName() string { return "games" }

func (m gameModel) record() GameRecord {
	rec := GameRecord{
		ID:              m.ID,
		Status:          types.GameStatus(m.Status),
		StartAt:         m.StartAt,
		WhitePlayerID:   m.WhitePlayerID,
		WhitePlayerName: m.WhitePlayer.Username,
	}
	if m.Result != nil {
		rec.Result = types.GameResult(*m.Result)
	}
	if m.BlackPlayerID != nil {
		rec.BlackPlayerID = *m.BlackPlayerID
	}
	if m.BlackPlayer != nil {
		rec.BlackPlayerName = m.BlackPlayer.Username
	}
	return rec
}

// Postgres is the gorm-backed Store.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the users and games tables.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &gameModel{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) FindGame(ctx context.Context, id string) (GameRecord, error) {
	var m gameModel
	err := p.db.WithContext(ctx).
		Preload("WhitePlayer").
		Preload("BlackPlayer").
		First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GameRecord{}, ErrNotFound
	}
	if err != nil {
		return GameRecord{}, fmt.Errorf("find game %s: %w", id, err)
	}
	return m.record(), nil
}

func (p *Postgres) CreateGame(ctx context.Context, rec GameRecord) (GameRecord, error) {
	m := gameModel{
		ID:            rec.ID,
		Status:        string(rec.Status),
		StartAt:       rec.StartAt,
		WhitePlayerID: rec.WhitePlayerID,
	}
	if rec.Result != "" {
		result := string(rec.Result)
		m.Result = &result
	}
	if rec.BlackPlayerID != "" {
		black := rec.BlackPlayerID
		m.BlackPlayerID = &black
	}
	if err := p.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error; err != nil {
		return GameRecord{}, fmt.Errorf("create game %s: %w", rec.ID, err)
	}
	return p.FindGame(ctx, rec.ID)
}

func (p *Postgres) UpdateGame(ctx context.Context, id string, upd GameUpdate) (GameRecord, error) {
	fields := map[string]any{}
	if upd.Status != nil {
		fields["status"] = string(*upd.Status)
	}
	if upd.Result != nil {
		fields["result"] = string(*upd.Result)
	}
	if upd.StartAt != nil {
		fields["start_at"] = *upd.StartAt
	}
	if upd.BlackPlayerID != nil {
		fields["black_player_id"] = *upd.BlackPlayerID
	}
	if len(fields) > 0 {
		res := p.db.WithContext(ctx).Model(&gameModel{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return GameRecord{}, fmt.Errorf("update game %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return GameRecord{}, ErrNotFound
		}
	}
	return p.FindGame(ctx, id)
}

func (p *Postgres) DeleteGame(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Delete(&gameModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete game %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FindUsers(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []userModel
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	users := make([]User, 0, len(models))
	for _, m := range models {
		users = append(users, User{ID: m.ID, Username: m.Username, Rating: m.Rating})
	}
	return users, nil
}

var _ Store = (*Postgres)(nil)
