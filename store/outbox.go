package store

import (
	"github.com/google/uuid"
)

type OutboxMessage struct {
	ID        int64
	MessageID string
	Topic     string
	MsgType   string
	Payload   []byte
	Attempts  int
	LastError string
}

// EnqueueOutbox stores an encoded message for the drainer to publish.
func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error) {
	return db.insert(`INSERT INTO outbox (message_id, topic, msg_type, payload) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), topic, msgType, payload)
}

// ListPendingOutbox returns unsent messages oldest first.
func (db *DB) ListPendingOutbox(limit int) ([]*OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, message_id, topic, msg_type, payload, attempts, last_error FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Topic, &m.MsgType, &m.Payload, &m.Attempts, &m.LastError); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=datetime('now') WHERE id=?`), id)
	return err
}

func (db *DB) FailOutbox(id int64, errMsg string) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET attempts=attempts+1, last_error=? WHERE id=?`), errMsg, id)
	return err
}

func (db *DB) CountPendingOutbox() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}
