package store

import (
	"time"
)

// OutboxMessage is one monitor-bound task.update or session.update envelope
// waiting for the messaging drainer to publish it. Heartbeats skip the
// outbox; a stale one is worthless.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	RobotID   string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

// EnqueueOutbox stores an encoded envelope for robotID. Events raised while
// the broker is down survive until the drainer can publish them.
func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType, robotID string) error {
	_, err := db.Exec(db.Q(`INSERT INTO outbox (topic, payload, msg_type, robot_id) VALUES (?, ?, ?, ?)`),
		topic, payload, msgType, robotID)
	return err
}

// ListPendingOutbox returns at most limit unpublished envelopes in the order
// they were raised.
func (db *DB) ListPendingOutbox(limit int) ([]*OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, payload, msg_type, robot_id, retries, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []*OutboxMessage
	for rows.Next() {
		m := &OutboxMessage{}
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.RobotID, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

// AckOutbox marks an envelope published.
func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=`+db.dialect.Now()+` WHERE id=?`), id)
	return err
}

// IncrementOutboxRetries counts a failed publish; the envelope stays pending.
func (db *DB) IncrementOutboxRetries(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}
