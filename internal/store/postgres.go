package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, apperr.Conflict("email %s already registered", user.Email)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) scanUser(row *sql.Row, ref string) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.InvalidReference("user %s not found", ref)
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, password_hash, created_at FROM users WHERE id=$1`, id)
	return s.scanUser(row, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, password_hash, created_at FROM users WHERE LOWER(email)=LOWER($1)`, email)
	return s.scanUser(row, email)
}

func (s *PostgresStore) CreateOperation(ctx context.Context, op Operation, creatorID string, r route.Route) (Operation, error) {
	routeJSON, err := json.Marshal(r)
	if err != nil {
		return Operation{}, fmt.Errorf("marshal route: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Operation{}, fmt.Errorf("begin create operation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO operations (path, description, category)
		VALUES ($1, $2, $3)
		RETURNING id, revision, created_at, updated_at
	`, op.Path, op.Description, op.Category).Scan(&op.ID, &op.Revision, &op.CreatedAt, &op.UpdatedAt)
	if isUniqueViolation(err) {
		return Operation{}, apperr.Conflict("operation path %q already exists", op.Path)
	}
	if err != nil {
		return Operation{}, fmt.Errorf("insert operation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (op_id, revision, route, author_id)
		VALUES ($1, $2, $3, $4)
	`, op.ID, op.Revision, routeJSON, creatorID); err != nil {
		return Operation{}, fmt.Errorf("insert first revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO permissions (user_id, op_id, access_level)
		VALUES ($1, $2, 'creator')
	`, creatorID, op.ID); err != nil {
		return Operation{}, fmt.Errorf("insert creator permission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Operation{}, fmt.Errorf("commit create operation: %w", err)
	}
	return op, nil
}

const operationColumns = `o.id, o.path, o.description, o.category, o.revision, o.created_at, o.updated_at`

func (s *PostgresStore) GetOperation(ctx context.Context, id int64) (Operation, error) {
	var op Operation
	err := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations o WHERE o.id=$1`, id).
		Scan(&op.ID, &op.Path, &op.Description, &op.Category, &op.Revision, &op.CreatedAt, &op.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, apperr.InvalidReference("operation %d not found", id)
	}
	if err != nil {
		return Operation{}, fmt.Errorf("read operation: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) ListOperationsForUser(ctx context.Context, userID string) ([]OperationAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`, p.access_level
		FROM operations o
		JOIN permissions p ON p.op_id = o.id
		WHERE p.user_id = $1
		ORDER BY o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := []OperationAccess{}
	for rows.Next() {
		var item OperationAccess
		var level string
		if err := rows.Scan(&item.ID, &item.Path, &item.Description, &item.Category, &item.Revision, &item.CreatedAt, &item.UpdatedAt, &level); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		item.Level = rbac.Parse(level)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestRevision(ctx context.Context, opID int64) (Revision, error) {
	rev := Revision{OpID: opID}
	var routeJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT r.revision, r.route, r.author_id, r.created_at
		FROM revisions r
		JOIN operations o ON o.id = r.op_id AND o.revision = r.revision
		WHERE r.op_id = $1
	`, opID).Scan(&rev.Revision, &routeJSON, &rev.AuthorID, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, apperr.InvalidReference("operation %d not found", opID)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("read latest revision: %w", err)
	}
	if err := json.Unmarshal(routeJSON, &rev.Route); err != nil {
		return Revision{}, fmt.Errorf("decode route: %w", err)
	}
	return rev, nil
}

func (s *PostgresStore) AppendRevision(ctx context.Context, opID int64, authorID string, r route.Route) (Revision, error) {
	routeJSON, err := json.Marshal(r)
	if err != nil {
		return Revision{}, fmt.Errorf("marshal route: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("begin append revision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rev := Revision{OpID: opID, AuthorID: authorID, Route: r.Clone()}
	err = tx.QueryRowContext(ctx, `
		UPDATE operations SET revision = revision + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING revision, updated_at
	`, opID).Scan(&rev.Revision, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, apperr.InvalidReference("operation %d not found", opID)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("bump revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (op_id, revision, route, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, opID, rev.Revision, routeJSON, authorID, rev.CreatedAt); err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Revision{}, fmt.Errorf("commit revision: %w", err)
	}
	return rev, nil
}

func (s *PostgresStore) GetPermission(ctx context.Context, userID string, opID int64) (rbac.Level, error) {
	var level sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT p.access_level
		FROM operations o
		LEFT JOIN permissions p ON p.op_id = o.id AND p.user_id = $1
		WHERE o.id = $2
	`, userID, opID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.LevelNone, apperr.InvalidReference("operation %d not found", opID)
	}
	if err != nil {
		return rbac.LevelNone, fmt.Errorf("read permission: %w", err)
	}
	return rbac.Parse(level.String), nil
}

func (s *PostgresStore) PutPermission(ctx context.Context, p Permission) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (user_id, op_id, access_level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, op_id) DO UPDATE SET access_level = EXCLUDED.access_level
		WHERE permissions.access_level <> 'creator'
	`, p.UserID, p.OpID, string(p.Level))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperr.InvalidReference("user %s or operation %d not found", p.UserID, p.OpID)
		}
		return fmt.Errorf("put permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("creator access cannot be changed")
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, userID string, opID int64) error {
	var level string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM permissions
		WHERE user_id = $1 AND op_id = $2 AND access_level <> 'creator'
		RETURNING access_level
	`, userID, opID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetPermission(ctx, userID, opID)
		if getErr != nil {
			return getErr
		}
		if current == rbac.LevelCreator {
			return apperr.Conflict("creator access cannot be revoked")
		}
		return apperr.InvalidReference("user %s has no access to operation %d", userID, opID)
	}
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPermissions(ctx context.Context, opID int64) ([]Permission, error) {
	if _, err := s.GetOperation(ctx, opID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.user_id, u.display_name, p.access_level
		FROM permissions p
		JOIN users u ON u.id = p.user_id
		WHERE p.op_id = $1
		ORDER BY p.user_id
	`, opID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	out := []Permission{}
	for rows.Next() {
		p := Permission{OpID: opID}
		var level string
		if err := rows.Scan(&p.UserID, &p.DisplayName, &level); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		p.Level = rbac.Parse(level)
		out = append(out, p)
	}
	return out, rows.Err()
}

const messageColumns = `op_id, id, user_id, username, text, message_type, reply_id, attachment, created_at, edited_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var typ int
	var edited sql.NullTime
	if err := row.Scan(&msg.OpID, &msg.ID, &msg.UserID, &msg.Username, &msg.Text, &typ, &msg.ReplyID, &msg.Attachment, &msg.CreatedAt, &edited); err != nil {
		return Message{}, err
	}
	msg.Type = MessageType(typ)
	if edited.Valid {
		at := edited.Time
		msg.EditedAt = &at
	}
	return msg, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT next_message_id, last_message_at FROM operations WHERE id = $1 FOR UPDATE
	`, msg.OpID).Scan(&msg.ID, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, apperr.InvalidReference("operation %d not found", msg.OpID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("lock message counter: %w", err)
	}
	msg.CreatedAt = nextCreatedAt(s.now(), last.Time)
	msg.EditedAt = nil

	if _, err := tx.ExecContext(ctx, `
		UPDATE operations SET next_message_id = $2, last_message_at = $3 WHERE id = $1
	`, msg.OpID, msg.ID+1, msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("advance message counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (op_id, id, user_id, username, text, message_type, reply_id, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.OpID, msg.ID, msg.UserID, msg.Username, msg.Text, int(msg.Type), msg.ReplyID, msg.Attachment, msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, opID, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE op_id=$1 AND id=$2`, opID, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, apperr.InvalidReference("message %d not found", id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) UpdateMessageText(ctx context.Context, opID, id int64, text string, editedAt time.Time) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET text=$3, edited_at=$4
		WHERE op_id=$1 AND id=$2
		RETURNING `+messageColumns, opID, id, text, editedAt.UTC())
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, apperr.InvalidReference("message %d not found", id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, opID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE op_id=$1 AND id=$2`, opID, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.InvalidReference("message %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, opID int64, since time.Time) ([]Message, error) {
	if _, err := s.GetOperation(ctx, opID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE op_id = $1 AND created_at > $2
		ORDER BY id
	`, opID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SearchMessages uses plainto_tsquery over the generated fts column, with
// ts_headline for snippets.
func (s *PostgresStore) SearchMessages(ctx context.Context, opID int64, query string, limit int) ([]MessageHit, error) {
	if strings.TrimSpace(query) == "" {
		return []MessageHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`,
			ts_headline('english', text, plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM messages
		WHERE op_id = $1 AND fts @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC, id
		LIMIT $3
	`, opID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	out := []MessageHit{}
	for rows.Next() {
		var hit MessageHit
		var typ int
		var edited sql.NullTime
		if err := rows.Scan(&hit.OpID, &hit.ID, &hit.UserID, &hit.Username, &hit.Text, &typ, &hit.ReplyID, &hit.Attachment, &hit.CreatedAt, &edited, &hit.Snippet); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Type = MessageType(typ)
		if edited.Valid {
			at := edited.Time
			hit.EditedAt = &at
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}
