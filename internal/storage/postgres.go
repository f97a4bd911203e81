package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/modmail-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger.Named("postgres")}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Info("Database schema is up to date")
	return nil
}

// mapError converts driver errors into the models taxonomy.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation", "foreign_key_violation", "check_violation", "not_null_violation":
			return fmt.Errorf("%w: %s: %s", models.ErrConstraint, what, pqErr.Message)
		case "invalid_text_representation":
			return fmt.Errorf("%w: %s: %s", models.ErrValidation, what, pqErr.Message)
		}
	}
	return fmt.Errorf("error %s: %w", what, err)
}

func expectOne(result sql.Result, format string, args ...any) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NotFoundf(format, args...)
	}
	return nil
}

func checkUUID(id, what string) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.Validationf("malformed %s id %q", what, id)
	}
	return nil
}

// Conversation methods

const conversationColumns = `conversation_id, user_id, channel_id, category_id, active, creation_date, closing_date`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var closing sql.NullTime
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.ChannelID, &conv.CategoryID, &conv.Active, &conv.CreatedAt, &closing); err != nil {
		return nil, err
	}
	if closing.Valid {
		conv.ClosingDate = &closing.Time
	}
	return conv, nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modmail.conversations (conversation_id, user_id, channel_id, category_id, active, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.UserID, conv.ChannelID, conv.CategoryID, conv.Active, conv.CreatedAt)
	return mapError(err, "creating conversation for user %s", conv.UserID)
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := checkUUID(id, "conversation"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM modmail.conversations WHERE conversation_id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err, "conversation %s", id)
	}
	return conv, nil
}

func (s *PostgresStorage) GetActiveConversationByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM modmail.conversations
		WHERE user_id = $1 AND active = true`, userID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err, "no active conversation for user %s", userID)
	}
	return conv, nil
}

func (s *PostgresStorage) GetConversationByChannel(ctx context.Context, channelID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM modmail.conversations
		WHERE channel_id = $1
		ORDER BY active DESC, creation_date DESC
		LIMIT 1`, channelID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err, "no conversation for channel %s", channelID)
	}
	return conv, nil
}

func (s *PostgresStorage) CloseConversation(ctx context.Context, id string, at time.Time) error {
	if err := checkUUID(id, "conversation"); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.conversations
		SET active = false, closing_date = $1
		WHERE conversation_id = $2`, at, id)
	if err != nil {
		return mapError(err, "closing conversation %s", id)
	}
	return expectOne(result, "conversation %s", id)
}

func (s *PostgresStorage) MoveConversation(ctx context.Context, id, channelID, categoryID string) error {
	if err := checkUUID(id, "conversation"); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.conversations
		SET channel_id = $1, category_id = $2
		WHERE conversation_id = $3`, channelID, categoryID, id)
	if err != nil {
		return mapError(err, "moving conversation %s", id)
	}
	return expectOne(result, "conversation %s", id)
}

func (s *PostgresStorage) CountClosedConversations(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM modmail.conversations
		WHERE user_id = $1 AND active = false`, userID).Scan(&count)
	if err != nil {
		return 0, mapError(err, "counting conversations of user %s", userID)
	}
	return count, nil
}

// Message methods

const messageColumns = `message_id, conversation_id, kind, author_id, author_name, message, made_by_mod, anonymous, deleted,
	staff_message_id, user_message_id, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	msg := &models.Message{}
	var userSide sql.NullString
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Kind,
		&msg.AuthorID,
		&msg.AuthorName,
		&msg.Content,
		&msg.MadeByStaff,
		&msg.Anonymous,
		&msg.Deleted,
		&msg.StaffMessageID,
		&userSide,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.UserMessageID = userSide.String
	return msg, nil
}

func (s *PostgresStorage) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "querying messages")
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := models.ValidateContent(msg.Content); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = models.KindRelay
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = msg.CreatedAt

	userSide := sql.NullString{String: msg.UserMessageID, Valid: msg.UserMessageID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modmail.messages
			(message_id, conversation_id, kind, author_id, author_name, message, made_by_mod, anonymous, deleted,
			 staff_message_id, user_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		msg.ID, msg.ConversationID, msg.Kind, msg.AuthorID, msg.AuthorName, msg.Content, msg.MadeByStaff, msg.Anonymous,
		msg.Deleted, msg.StaffMessageID, userSide, msg.CreatedAt, msg.UpdatedAt)
	return mapError(err, "saving message in conversation %s", msg.ConversationID)
}

func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := checkUUID(id, "message"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM modmail.messages WHERE message_id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, mapError(err, "message %s", id)
	}
	return msg, nil
}

func (s *PostgresStorage) LatestMessage(ctx context.Context, conversationID string, filter MessageFilter) (*models.Message, error) {
	if err := checkUUID(conversationID, "conversation"); err != nil {
		return nil, err
	}
	var madeByStaff sql.NullBool
	if filter.MadeByStaff != nil {
		madeByStaff = sql.NullBool{Bool: *filter.MadeByStaff, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM modmail.messages
		WHERE conversation_id = $1
		  AND deleted = false
		  AND ($2 = '' OR kind = $2)
		  AND ($3::boolean IS NULL OR made_by_mod = $3)
		  AND ($4 = '' OR author_id = $4)
		ORDER BY created_at DESC
		LIMIT 1`,
		conversationID, string(filter.Kind), madeByStaff, filter.AuthorID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, mapError(err, "no matching message in conversation %s", conversationID)
	}
	return msg, nil
}

func (s *PostgresStorage) FindMessageBySideID(ctx context.Context, conversationID, sideID string) (*models.Message, error) {
	if err := checkUUID(conversationID, "conversation"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM modmail.messages
		WHERE conversation_id = $1 AND (staff_message_id = $2 OR user_message_id = $2)
		LIMIT 1`, conversationID, sideID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, mapError(err, "message %s in conversation %s", sideID, conversationID)
	}
	return msg, nil
}

func (s *PostgresStorage) UpdateMessageContent(ctx context.Context, id, content string) error {
	if err := models.ValidateContent(content); err != nil {
		return err
	}
	if err := checkUUID(id, "message"); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.messages
		SET message = $1, updated_at = $2
		WHERE message_id = $3`, content, time.Now(), id)
	if err != nil {
		return mapError(err, "updating message %s", id)
	}
	return expectOne(result, "message %s", id)
}

func (s *PostgresStorage) MarkMessageDeleted(ctx context.Context, id string) error {
	if err := checkUUID(id, "message"); err != nil {
		return err
	}
	// The deleted = false guard makes concurrent deletes of one message
	// resolve to exactly one winner.
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.messages
		SET deleted = true, updated_at = $1
		WHERE message_id = $2 AND deleted = false`, time.Now(), id)
	if err != nil {
		return mapError(err, "deleting message %s", id)
	}
	return expectOne(result, "message %s", id)
}

func (s *PostgresStorage) SetStaffMessageID(ctx context.Context, id, staffMessageID string) error {
	if err := checkUUID(id, "message"); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.messages SET staff_message_id = $1 WHERE message_id = $2`, staffMessageID, id)
	if err != nil {
		return mapError(err, "repointing message %s", id)
	}
	return expectOne(result, "message %s", id)
}

func (s *PostgresStorage) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	if err := checkUUID(conversationID, "conversation"); err != nil {
		return nil, err
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM modmail.messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
}

func (s *PostgresStorage) ListNotes(ctx context.Context, userID string) ([]*models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT m.message_id, m.conversation_id, m.kind, m.author_id, m.author_name, m.message, m.made_by_mod, m.anonymous,
		       m.deleted, m.staff_message_id, m.user_message_id, m.created_at, m.updated_at
		FROM modmail.messages m
		INNER JOIN modmail.conversations c ON m.conversation_id = c.conversation_id
		WHERE c.user_id = $1 AND m.kind = 'internal' AND m.deleted = false
		ORDER BY m.created_at ASC`, userID)
}

// Category methods

const categoryColumns = `category_id, category_name, group_id, active, token, access_list`

func scanCategory(row interface{ Scan(...any) error }) (*models.Category, error) {
	cat := &models.Category{}
	if err := row.Scan(&cat.ID, &cat.Name, &cat.GroupID, &cat.Active, &cat.Token, pq.Array(&cat.AccessList)); err != nil {
		return nil, err
	}
	return cat, nil
}

func (s *PostgresStorage) queryCategories(ctx context.Context, query string, args ...any) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "querying categories")
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning category: %w", err)
		}
		categories = append(categories, cat)
	}
	return categories, rows.Err()
}

func (s *PostgresStorage) ListActiveCategories(ctx context.Context) ([]*models.Category, error) {
	return s.queryCategories(ctx, `SELECT `+categoryColumns+` FROM modmail.categories WHERE active = true ORDER BY category_name`)
}

func (s *PostgresStorage) ListCategories(ctx context.Context) ([]*models.Category, error) {
	return s.queryCategories(ctx, `SELECT `+categoryColumns+` FROM modmail.categories ORDER BY category_name`)
}

func (s *PostgresStorage) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM modmail.categories WHERE category_id = $1`, id)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, mapError(err, "category %s", id)
	}
	return cat, nil
}

func (s *PostgresStorage) FindCategory(ctx context.Context, ref string) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM modmail.categories
		WHERE active = true AND (category_id = $1 OR lower(category_name) = lower($1))
		LIMIT 1`, ref)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, mapError(err, "category %q", ref)
	}
	return cat, nil
}

func (s *PostgresStorage) GetCategoryByToken(ctx context.Context, token string) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM modmail.categories
		WHERE token = $1 AND active = true`, token)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, mapError(err, "no active category for token %q", token)
	}
	return cat, nil
}

func (s *PostgresStorage) UpsertCategory(ctx context.Context, cat *models.Category) error {
	access := cat.AccessList
	if access == nil {
		access = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modmail.categories (category_id, category_name, group_id, active, token, access_list)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (category_id) DO UPDATE
		SET category_name = EXCLUDED.category_name,
		    group_id = EXCLUDED.group_id,
		    active = EXCLUDED.active,
		    token = EXCLUDED.token,
		    access_list = EXCLUDED.access_list`,
		cat.ID, cat.Name, cat.GroupID, cat.Active, cat.Token, pq.Array(access))
	return mapError(err, "saving category %s", cat.ID)
}

func (s *PostgresStorage) SetCategoryActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE modmail.categories SET active = $1 WHERE category_id = $2`, active, id)
	if err != nil {
		return mapError(err, "updating category %s", id)
	}
	return expectOne(result, "category %s", id)
}

// Mute methods

const muteColumns = `user_id, active, muted_by, muted_at, muted_until`

func scanMute(row interface{ Scan(...any) error }) (*models.MuteRecord, error) {
	rec := &models.MuteRecord{}
	var until sql.NullTime
	if err := row.Scan(&rec.UserID, &rec.Active, &rec.MutedBy, &rec.MutedAt, &until); err != nil {
		return nil, err
	}
	if until.Valid {
		rec.MutedUntil = &until.Time
	}
	return rec, nil
}

func (s *PostgresStorage) UpsertMute(ctx context.Context, rec *models.MuteRecord) error {
	var until sql.NullTime
	if rec.MutedUntil != nil {
		until = sql.NullTime{Time: *rec.MutedUntil, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modmail.muted (user_id, muted_by, muted_at, muted_until, active, last_update_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE
		SET muted_by = EXCLUDED.muted_by,
		    muted_at = EXCLUDED.muted_at,
		    muted_until = EXCLUDED.muted_until,
		    active = EXCLUDED.active,
		    last_update_at = now()`,
		rec.UserID, rec.MutedBy, rec.MutedAt, until, rec.Active)
	return mapError(err, "muting user %s", rec.UserID)
}

func (s *PostgresStorage) ClearMute(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modmail.muted SET active = false, last_update_at = now() WHERE user_id = $1`, userID)
	if err != nil {
		return mapError(err, "unmuting user %s", userID)
	}
	return expectOne(result, "no mute record for user %s", userID)
}

func (s *PostgresStorage) GetMute(ctx context.Context, userID string) (*models.MuteRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+muteColumns+` FROM modmail.muted WHERE user_id = $1`, userID)
	rec, err := scanMute(row)
	if err != nil {
		return nil, mapError(err, "no mute record for user %s", userID)
	}
	return rec, nil
}

func (s *PostgresStorage) ListMutes(ctx context.Context, activeOnly bool) ([]*models.MuteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+muteColumns+`
		FROM modmail.muted
		WHERE ($1 = false OR active = true)
		ORDER BY muted_at`, activeOnly)
	if err != nil {
		return nil, mapError(err, "querying mutes")
	}
	defer rows.Close()

	var result []*models.MuteRecord
	for rows.Next() {
		rec, err := scanMute(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning mute: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
