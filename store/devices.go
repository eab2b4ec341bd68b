package store

import (
	"database/sql"
	"errors"
	"time"
)

// DeviceRecord is a registered door or elevator. Descriptor holds the
// kind-specific geometry as JSON.
type DeviceRecord struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	AddressToken string     `json:"address_token"`
	Descriptor   string     `json:"descriptor"`
	Status       string     `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

func (db *DB) UpsertDevice(d *DeviceRecord) error {
	res, err := db.Exec(db.Q(`UPDATE devices SET kind=?, address_token=?, descriptor=?, updated_at=`+db.dialect.Now()+` WHERE id=?`),
		d.Kind, d.AddressToken, d.Descriptor, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = db.Exec(db.Q(`INSERT INTO devices (id, kind, address_token, descriptor) VALUES (?, ?, ?, ?)`),
		d.ID, d.Kind, d.AddressToken, d.Descriptor)
	return err
}

// UpdateDeviceStatus records the last reported status of a device.
func (db *DB) UpdateDeviceStatus(id, status string, seen time.Time) error {
	_, err := db.Exec(db.Q(`UPDATE devices SET status=?, last_seen=? WHERE id=?`), status, formatTime(&seen), id)
	return err
}

func (db *DB) GetDevice(id string) (*DeviceRecord, error) {
	row := db.QueryRow(db.Q(`SELECT id, kind, address_token, descriptor, status, last_seen FROM devices WHERE id=?`), id)
	return scanDevice(row)
}

func (db *DB) ListDevices() ([]*DeviceRecord, error) {
	rows, err := db.Query(`SELECT id, kind, address_token, descriptor, status, last_seen FROM devices ORDER BY kind, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DeviceRecord
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*DeviceRecord, error) {
	var d DeviceRecord
	var lastSeen any
	if err := s.Scan(&d.ID, &d.Kind, &d.AddressToken, &d.Descriptor, &d.Status, &lastSeen); err != nil {
		return nil, err
	}
	d.LastSeen = parseTimePtr(lastSeen)
	return &d, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
