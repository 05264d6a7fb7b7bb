package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var ErrTrustScoreNotFound = errors.New("trust score not found")

type TrustRepository struct {
	db *sqlx.DB
}

func NewTrustRepository(db *sqlx.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

// Record добавляет событие рейтинга и пересчитывает кэшированный счёт.
// Возвращает false, если такое бизнес-событие уже было записано.
func (r *TrustRepository) Record(ctx context.Context, event *models.TrustEvent) (bool, *models.TrustScore, error) {
	var (
		inserted bool
		score    *models.TrustScore
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		inserted, err = insertTrustEventTx(ctx, tx, event)
		if err != nil {
			return err
		}
		score, err = recomputeTrustScoreTx(ctx, tx, event.SubjectID)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return inserted, score, nil
}

// GetScore возвращает кэшированный счёт субъекта; для неизвестного
// субъекта — нулевой счёт уровня new.
func (r *TrustRepository) GetScore(ctx context.Context, subjectID uuid.UUID) (*models.TrustScore, error) {
	score, err := common.GetByField[models.TrustScore](ctx, r.db, "trust_scores", "subject_id", subjectID, ErrTrustScoreNotFound)
	if errors.Is(err, ErrTrustScoreNotFound) {
		return &models.TrustScore{SubjectID: subjectID, Score: 0, Level: models.TrustLevelNew}, nil
	}
	return score, err
}

// ListEvents возвращает журнал событий субъекта, новые сверху.
func (r *TrustRepository) ListEvents(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]models.TrustEvent, error) {
	var events []models.TrustEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM trust_events WHERE subject_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, subjectID, limit, offset)
	return events, err
}

// ConsecutiveOnTimeDeliveries считает текущую серию сдач в срок:
// количество on_time_delivery после последнего late_delivery.
func (r *TrustRepository) ConsecutiveOnTimeDeliveries(ctx context.Context, subjectID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM trust_events
		WHERE subject_id = $1 AND event_type = $2
		  AND created_at > COALESCE(
			(SELECT MAX(created_at) FROM trust_events WHERE subject_id = $1 AND event_type = $3),
			'-infinity'::timestamptz)
	`, subjectID, models.TrustEventOnTimeDelivery, models.TrustEventLateDelivery)
	if err != nil {
		return 0, fmt.Errorf("trust repository: count streak %w", err)
	}
	return count, nil
}

// insertTrustEventTx добавляет событие; дубликат (subject, type, entity)
// молча игнорируется — повторная запись того же бизнес-события безопасна.
func insertTrustEventTx(ctx context.Context, tx *sqlx.Tx, event *models.TrustEvent) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO trust_events (subject_id, event_type, delta, related_entity_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uniq_trust_event DO NOTHING
	`, event.SubjectID, event.EventType, event.Delta, event.RelatedEntityID)
	if err != nil {
		return false, fmt.Errorf("trust repository: insert event %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// recomputeTrustScoreTx пересчитывает кэш из журнала под блокировкой строки
// счёта — пересчёты по одному субъекту сериализованы.
func recomputeTrustScoreTx(ctx context.Context, tx *sqlx.Tx, subjectID uuid.UUID) (*models.TrustScore, error) {
	// Upsert берёт блокировку строки счёта
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trust_scores (subject_id) VALUES ($1)
		ON CONFLICT (subject_id) DO UPDATE SET subject_id = EXCLUDED.subject_id
	`, subjectID); err != nil {
		return nil, fmt.Errorf("trust repository: lock score %w", err)
	}

	var sum int
	if err := tx.GetContext(ctx, &sum, `
		SELECT GREATEST(0, COALESCE(SUM(delta), 0))::int FROM trust_events WHERE subject_id = $1
	`, subjectID); err != nil {
		return nil, fmt.Errorf("trust repository: recompute %w", err)
	}

	var score models.TrustScore
	if err := tx.GetContext(ctx, &score, `
		UPDATE trust_scores SET score = $2, level = $3, updated_at = NOW()
		WHERE subject_id = $1
		RETURNING *
	`, subjectID, sum, models.TrustLevelForScore(sum)); err != nil {
		return nil, fmt.Errorf("trust repository: update score %w", err)
	}
	return &score, nil
}

// applyTrustEventsTx добавляет набор событий и пересчитывает счёт каждого
// затронутого субъекта внутри внешней транзакции.
func applyTrustEventsTx(ctx context.Context, tx *sqlx.Tx, events []models.TrustEvent) error {
	for i := range events {
		if _, err := insertTrustEventTx(ctx, tx, &events[i]); err != nil {
			return err
		}
	}
	for _, subjectID := range affectedSubjects(events) {
		if _, err := recomputeTrustScoreTx(ctx, tx, subjectID); err != nil {
			return err
		}
	}
	return nil
}

// affectedSubjects возвращает уникальных субъектов событий в фиксированном
// порядке: блокировки строк trust_scores во всех транзакциях берутся
// одинаково, иначе встречные расчёты по одной паре сторон могут взаимно
// заблокироваться.
func affectedSubjects(events []models.TrustEvent) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(events))
	subjects := make([]uuid.UUID, 0, len(events))
	for i := range events {
		if _, ok := seen[events[i].SubjectID]; ok {
			continue
		}
		seen[events[i].SubjectID] = struct{}{}
		subjects = append(subjects, events[i].SubjectID)
	}
	sort.Slice(subjects, func(i, j int) bool {
		return bytes.Compare(subjects[i][:], subjects[j][:]) < 0
	})
	return subjects
}
