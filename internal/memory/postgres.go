package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaVersion = 1

// PostgresStore persists the memory schema in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			profile TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ NULL,
			summary_text TEXT NOT NULL DEFAULT '',
			entities_json JSONB NOT NULL DEFAULT '[]',
			topics_json JSONB NOT NULL DEFAULT '[]',
			actions_json JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			turn_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, turn_index)
		);`,
		`CREATE TABLE IF NOT EXISTS entities (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			name TEXT NOT NULL,
			canonical_name TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			last_touched_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_name_ci ON entities (lower(name));`,
		`CREATE TABLE IF NOT EXISTS session_entities (
			session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			PRIMARY KEY (session_id, entity_id)
		);`,
		`CREATE TABLE IF NOT EXISTS facts (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_slug TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			provenance JSONB NOT NULL DEFAULT '{}',
			is_latest BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_facts_key_latest ON facts (subject_slug, attribute, is_latest);`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			topic TEXT NOT NULL,
			entity_id BIGINT NULL REFERENCES entities(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_checked_at TIMESTAMPTZ NULL,
			frequency TEXT NOT NULL DEFAULT 'weekly',
			active BOOLEAN NOT NULL DEFAULT TRUE
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init memory schema failed on %q: %w", stmt, err)
		}
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('version', $1)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		fmt.Sprintf("%d", schemaVersion),
	)
	if err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// Remember supersedes the prior latest row for the key and inserts the new
// row inside one transaction, so two writers can never both end up latest.
func (s *PostgresStore) Remember(ctx context.Context, p RememberParams) (int64, error) {
	slug := strings.TrimSpace(p.SubjectSlug)
	attr := NormalizeAttribute(p.Attribute)
	if slug == "" || attr == "" {
		return 0, ErrInvalidKey
	}
	prov, err := json.Marshal(p.Provenance)
	if err != nil {
		return 0, fmt.Errorf("marshal provenance: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE facts SET is_latest = FALSE, status = 'superseded', updated_at = now()
		 WHERE subject_slug = $1 AND attribute = $2 AND is_latest`,
		slug, attr,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede prior facts: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO facts (subject_type, subject_slug, attribute, value, source, confidence, status, provenance, is_latest)
		 VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, TRUE)
		 RETURNING id`,
		string(p.SubjectType), slug, attr, p.Value, string(p.Source), p.Confidence, prov,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert fact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, subjectSlug, attribute string) (Fact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, subject_type, subject_slug, attribute, value, source, confidence, status, provenance, is_latest, created_at, updated_at
		   FROM facts WHERE subject_slug = $1 AND attribute = $2 AND is_latest`,
		subjectSlug, NormalizeAttribute(attribute),
	)
	fact, err := scanFact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fact{}, ErrNotFound
		}
		return Fact{}, fmt.Errorf("get latest fact: %w", err)
	}
	return fact, nil
}

func (s *PostgresStore) ListFacts(ctx context.Context, f FactFilter) ([]Fact, error) {
	query := `SELECT id, subject_type, subject_slug, attribute, value, source, confidence, status, provenance, is_latest, created_at, updated_at FROM facts`
	var (
		clauses []string
		args    []any
	)
	if f.SubjectSlug != "" {
		args = append(args, f.SubjectSlug)
		clauses = append(clauses, fmt.Sprintf("subject_slug = $%d", len(args)))
	}
	if f.Attribute != "" {
		args = append(args, NormalizeAttribute(f.Attribute))
		clauses = append(clauses, fmt.Sprintf("attribute = $%d", len(args)))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_latest")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY subject_slug, attribute, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		out = append(out, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return out, nil
}

func scanFact(row pgx.Row) (Fact, error) {
	var (
		f           Fact
		subjectType string
		source      string
		status      string
		prov        []byte
	)
	if err := row.Scan(
		&f.ID, &subjectType, &f.SubjectSlug, &f.Attribute, &f.Value,
		&source, &f.Confidence, &status, &prov, &f.IsLatest,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return Fact{}, err
	}
	f.SubjectType = SubjectType(subjectType)
	f.Source = Source(source)
	f.Status = FactStatus(status)
	if len(prov) > 0 {
		if err := json.Unmarshal(prov, &f.Provenance); err != nil {
			return Fact{}, fmt.Errorf("decode provenance: %w", err)
		}
	}
	return f, nil
}

func (s *PostgresStore) StartSession(ctx context.Context, profile string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (profile) VALUES ($1) RETURNING id`, profile,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// AppendMessage computes max(turn_index)+1 and inserts inside one
// transaction; the session row is locked so concurrent writers cannot
// observe the same max.
func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID int64, role Role, content string, turnIndex int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sid int64
	if err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&sid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock session: %w", err)
	}

	if turnIndex < 0 {
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM messages WHERE session_id = $1`,
			sessionID,
		).Scan(&turnIndex)
		if err != nil {
			return 0, fmt.Errorf("next turn index: %w", err)
		}
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (session_id, turn_index, role, content) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, turnIndex, string(role), content,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, turn_index, role, content, created_at
		   FROM messages WHERE session_id = $1 ORDER BY turn_index ASC`,
		sessionID,
	)
}

func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT id, session_id, turn_index, role, content, created_at
		   FROM messages WHERE session_id = $1 ORDER BY turn_index DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	// Back into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TurnIndex, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// CloseSession stamps the end time and summary fields. Entity upsert and
// watchlist derivation run only on the first close, which is what makes the
// operation idempotent.
func (s *PostgresStore) CloseSession(ctx context.Context, sessionID int64, p CloseParams) error {
	entities, err := json.Marshal(orEmptyRefs(p.Entities))
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	topics, err := json.Marshal(orEmpty(p.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	actions, err := json.Marshal(orEmpty(p.Actions))
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var endedAt *time.Time
	err = tx.QueryRow(ctx, `SELECT ended_at FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}
	firstClose := endedAt == nil

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET ended_at = now(), summary_text = $2, entities_json = $3, topics_json = $4, actions_json = $5
		 WHERE id = $1`,
		sessionID, p.Summary, entities, topics, actions,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	if firstClose {
		var firstEntity string
		for _, ref := range p.Entities {
			if ref.Name == "" {
				continue
			}
			if firstEntity == "" {
				firstEntity = ref.Name
			}
			entityID, err := upsertEntity(ctx, tx, ref.Name, ref.EntityType, ref.State)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO session_entities (session_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				sessionID, entityID,
			)
			if err != nil {
				return fmt.Errorf("join session entity: %w", err)
			}
		}
		for _, action := range p.Actions {
			if !ActionImpliesWatch(action) {
				continue
			}
			if _, err := insertWatch(ctx, tx, action, firstEntity, FrequencyWeekly); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestClosedSession(ctx context.Context) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, profile, started_at, ended_at, summary_text, entities_json, topics_json, actions_json
		   FROM sessions WHERE ended_at IS NOT NULL ORDER BY id DESC LIMIT 1`,
	)
	var (
		sess     Session
		entities []byte
		topics   []byte
		actions  []byte
	)
	err := row.Scan(&sess.ID, &sess.Profile, &sess.StartedAt, &sess.EndedAt, &sess.SummaryText, &entities, &topics, &actions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("latest closed session: %w", err)
	}
	if err := json.Unmarshal(entities, &sess.Entities); err != nil {
		return Session{}, fmt.Errorf("decode entities: %w", err)
	}
	if err := json.Unmarshal(topics, &sess.Topics); err != nil {
		return Session{}, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal(actions, &sess.Actions); err != nil {
		return Session{}, fmt.Errorf("decode actions: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) CreateWatch(ctx context.Context, topic, entityName string, frequency Frequency) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := insertWatch(ctx, tx, topic, entityName, frequency)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

func insertWatch(ctx context.Context, tx pgx.Tx, topic, entityName string, frequency Frequency) (int64, error) {
	if frequency == "" {
		frequency = FrequencyWeekly
	}
	var entityID *int64
	if entityName != "" {
		id, err := upsertEntity(ctx, tx, entityName, "", "")
		if err != nil {
			return 0, err
		}
		entityID = &id
	}
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO watchlist (topic, entity_id, frequency, active) VALUES ($1, $2, $3, TRUE) RETURNING id`,
		topic, entityID, string(frequency),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert watchlist item: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, activeOnly bool) ([]WatchlistItem, error) {
	query := `SELECT id, topic, entity_id, created_at, last_checked_at, frequency, active FROM watchlist`
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var out []WatchlistItem
	for rows.Next() {
		var (
			w    WatchlistItem
			freq string
		)
		if err := rows.Scan(&w.ID, &w.Topic, &w.EntityID, &w.CreatedAt, &w.LastCheckedAt, &freq, &w.Active); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		w.Frequency = Frequency(freq)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeactivateWatch(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE watchlist SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func upsertEntity(ctx context.Context, tx pgx.Tx, name, entityType, state string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM entities WHERE lower(name) = lower($1)`, name).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, `UPDATE entities SET last_touched_at = now() WHERE id = $1`, id); err != nil {
			return 0, fmt.Errorf("touch entity: %w", err)
		}
		return id, nil
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`INSERT INTO entities (name, canonical_name, entity_type, state) VALUES ($1, $1, $2, $3) RETURNING id`,
			name, entityType, state,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert entity: %w", err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("lookup entity: %w", err)
	}
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptyRefs(v []EntityRef) []EntityRef {
	if v == nil {
		return []EntityRef{}
	}
	return v
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
