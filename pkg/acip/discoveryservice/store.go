package discoveryservice

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// DefaultMaxParticipants is a session's participant cap absent an
// override.
const DefaultMaxParticipants = 32

// Participant is one row of the participants table.
type Participant struct {
	SessionUUID   uuid.UUID
	ParticipantID uuid.UUID
	PubKey        []byte
	IP            string
	JoinedAt      time.Time
	LastSeenAt    time.Time
}

// Session is one row of the sessions table, joined with its participants
// for convenience.
type Session struct {
	UUID             uuid.UUID
	SessionString    string
	CreatorID        uuid.UUID
	CreatorPubKey    []byte
	CreatedAt        time.Time
	MaxParticipants  int
	HostID           uuid.UUID // uuid.Nil when unset
	Settings         packet.Settings
	Participants     []Participant
}

// Store is the discovery-service's relational view of sessions and
// participants, backed by the same sqlite database the
// ratelimit.SQLiteLimiter's rate_events table lives in.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the sqlite database at path and migrates
// the sessions/participants tables. Passing an empty path opens an
// in-memory database, useful for tests.
func OpenStore(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open discovery-service db %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the backing handle so the rate limiter can share it via
// ratelimit.SQLiteLimiter.SetDB.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			uuid TEXT PRIMARY KEY,
			session_string TEXT UNIQUE NOT NULL,
			creator_id TEXT NOT NULL,
			creator_pubkey BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			max_participants INTEGER NOT NULL,
			host_id TEXT,
			settings BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS participants (
			session_uuid TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			pubkey BLOB NOT NULL,
			ip TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			PRIMARY KEY (session_uuid, participant_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate discovery-service schema: %w", err)
	}
	return nil
}

// Close releases the backing database handle.
func (s *Store) Close() error { return s.db.Close() }

// SessionStringExists reports whether s is already in use, for
// GenerateSessionString's uniqueness check.
func (s *Store) SessionStringExists(str string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_string = ?`, str).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check session string: %w", err)
	}
	return count > 0, nil
}

// CreateSession inserts a new session row with creator as its sole
// initial participant.
func (s *Store) CreateSession(sess Session, creatorIP string) error {
	settingsBytes, err := sess.Settings.Encode()
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create session tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (uuid, session_string, creator_id, creator_pubkey, created_at, max_participants, host_id, settings)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		sess.UUID.String(), sess.SessionString, sess.CreatorID.String(), sess.CreatorPubKey,
		sess.CreatedAt.UnixMilli(), sess.MaxParticipants, settingsBytes,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	now := sess.CreatedAt.UnixMilli()
	_, err = tx.Exec(
		`INSERT INTO participants (session_uuid, participant_id, pubkey, ip, joined_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.UUID.String(), sess.CreatorID.String(), sess.CreatorPubKey, creatorIP, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert creator participant: %w", err)
	}

	return tx.Commit()
}

// LookupSessionUUID resolves a session string to its uuid, or NotFound.
func (s *Store) LookupSessionUUID(sessionString string) (uuid.UUID, error) {
	var raw string
	err := s.db.QueryRow(`SELECT uuid FROM sessions WHERE session_string = ?`, sessionString).Scan(&raw)
	if err == sql.ErrNoRows {
		return uuid.Nil, acerr.New(acerr.NotFound, "session string not found")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup session string: %w", err)
	}
	return uuid.Parse(raw)
}

// GetSession loads a session and its participants, or NotFound.
func (s *Store) GetSession(id uuid.UUID) (Session, error) {
	var sess Session
	var creatorRaw, hostRaw sql.NullString
	var createdAtMs int64
	var settingsBytes []byte

	err := s.db.QueryRow(
		`SELECT session_string, creator_id, creator_pubkey, created_at, max_participants, host_id, settings
		 FROM sessions WHERE uuid = ?`, id.String(),
	).Scan(&sess.SessionString, &creatorRaw, &sess.CreatorPubKey, &createdAtMs, &sess.MaxParticipants, &hostRaw, &settingsBytes)
	if err == sql.ErrNoRows {
		return Session{}, acerr.New(acerr.NotFound, "session not found")
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}

	sess.UUID = id
	sess.CreatedAt = time.UnixMilli(createdAtMs)
	if creatorRaw.Valid {
		sess.CreatorID, _ = uuid.Parse(creatorRaw.String)
	}
	if hostRaw.Valid && hostRaw.String != "" {
		sess.HostID, _ = uuid.Parse(hostRaw.String)
	}
	if settings, err := packet.DecodeSettings(settingsBytes); err == nil {
		sess.Settings = settings
	}

	rows, err := s.db.Query(
		`SELECT participant_id, pubkey, ip, joined_at, last_seen_at FROM participants WHERE session_uuid = ?`,
		id.String(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		var pidRaw string
		var joinedMs, seenMs int64
		if err := rows.Scan(&pidRaw, &p.PubKey, &p.IP, &joinedMs, &seenMs); err != nil {
			return Session{}, fmt.Errorf("scan participant: %w", err)
		}
		p.SessionUUID = id
		p.ParticipantID, _ = uuid.Parse(pidRaw)
		p.JoinedAt = time.UnixMilli(joinedMs)
		p.LastSeenAt = time.UnixMilli(seenMs)
		sess.Participants = append(sess.Participants, p)
	}
	return sess, nil
}

// JoinSession adds a participant to a session, enforcing capacity and
// AlreadyJoined.
func (s *Store) JoinSession(sessionID, participantID uuid.UUID, pubKey []byte, ip string, now time.Time) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	for _, p := range sess.Participants {
		if p.ParticipantID == participantID {
			return acerr.New(acerr.AlreadyJoined, "participant already in session")
		}
	}
	if len(sess.Participants) >= sess.MaxParticipants {
		return acerr.New(acerr.Full, "session at max participants")
	}

	_, err = s.db.Exec(
		`INSERT INTO participants (session_uuid, participant_id, pubkey, ip, joined_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID.String(), participantID.String(), pubKey, ip, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// RemoveParticipant drops a participant from a session (disconnect).
func (s *Store) RemoveParticipant(sessionID, participantID uuid.UUID) error {
	_, err := s.db.Exec(
		`DELETE FROM participants WHERE session_uuid = ? AND participant_id = ?`,
		sessionID.String(), participantID.String(),
	)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// SetHost records the elected host for a session.
func (s *Store) SetHost(sessionID, hostID uuid.UUID) error {
	var hostVal any
	if hostID != uuid.Nil {
		hostVal = hostID.String()
	}
	_, err := s.db.Exec(`UPDATE sessions SET host_id = ? WHERE uuid = ?`, hostVal, sessionID.String())
	if err != nil {
		return fmt.Errorf("set host: %w", err)
	}
	return nil
}

// TouchParticipant refreshes a participant's last_seen_at.
func (s *Store) TouchParticipant(sessionID, participantID uuid.UUID, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE participants SET last_seen_at = ? WHERE session_uuid = ? AND participant_id = ?`,
		now.UnixMilli(), sessionID.String(), participantID.String(),
	)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

// CleanupEmptySessions deletes sessions with zero participants whose
// created_at is older than maxAge.
func (s *Store) CleanupEmptySessions(maxAge time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-maxAge).UnixMilli()
	res, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE created_at < ?
		  AND uuid NOT IN (SELECT DISTINCT session_uuid FROM participants)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup empty sessions: %w", err)
	}
	return res.RowsAffected()
}
