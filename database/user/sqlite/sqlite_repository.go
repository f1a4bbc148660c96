// Package sqlite implements the user store over a sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attendkey/attendkey/database/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// NewRepository wraps around a SQL database to execute the user store methods.
func NewRepository(db *sql.DB) user.Repository {
	return &repository{db: db}
}

type repository struct {
	db *sql.DB
}

type credentialRow struct {
	id              []byte
	publicKey       []byte
	attestationType string
	transport       []byte
	flags           []byte
	authenticator   []byte
}

func credentialToRow(credential *webauthn.Credential) (credentialRow, error) {
	if credential.Transport == nil {
		credential.Transport = []protocol.AuthenticatorTransport{}
	}
	transport, err := json.Marshal(credential.Transport)
	if err != nil {
		return credentialRow{}, err
	}
	flags, err := json.Marshal(credential.Flags)
	if err != nil {
		return credentialRow{}, err
	}
	authenticator, err := json.Marshal(credential.Authenticator)
	if err != nil {
		return credentialRow{}, err
	}
	return credentialRow{
		id:              credential.ID,
		publicKey:       credential.PublicKey,
		attestationType: credential.AttestationType,
		transport:       transport,
		flags:           flags,
		authenticator:   authenticator,
	}, nil
}

func credentialFromRow(row *credentialRow) (webauthn.Credential, error) {
	var transport []protocol.AuthenticatorTransport
	if err := json.Unmarshal(row.transport, &transport); err != nil {
		return webauthn.Credential{}, err
	}
	var flags webauthn.CredentialFlags
	if err := json.Unmarshal(row.flags, &flags); err != nil {
		return webauthn.Credential{}, err
	}
	var authenticator webauthn.Authenticator
	if err := json.Unmarshal(row.authenticator, &authenticator); err != nil {
		return webauthn.Credential{}, err
	}
	return webauthn.Credential{
		ID:              row.id,
		PublicKey:       row.publicKey,
		AttestationType: row.attestationType,
		Transport:       transport,
		Flags:           flags,
		Authenticator:   authenticator,
	}, nil
}

// GetByName fetches a user and its credentials.
func (r *repository) GetByName(ctx context.Context, name string) (*user.User, error) {
	u := user.User{Name: name}
	var checkedIn int64
	err := r.db.QueryRowContext(
		ctx,
		"SELECT display_name, checked_in FROM users WHERE name = ?",
		name,
	).Scan(&u.DisplayName, &checkedIn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	u.CheckedIn = checkedIn != 0

	rows, err := r.db.QueryContext(
		ctx,
		"SELECT id, public_key, attestation_type, transport, flags, authenticator FROM credentials WHERE user_name = ? ORDER BY rowid",
		name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row credentialRow
		if err := rows.Scan(
			&row.id,
			&row.publicKey,
			&row.attestationType,
			&row.transport,
			&row.flags,
			&row.authenticator,
		); err != nil {
			return nil, err
		}
		credential, err := credentialFromRow(&row)
		if err != nil {
			return nil, err
		}
		u.Credentials = append(u.Credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &u, nil
}

// Create adds a user with exactly one credential in a single transaction.
func (r *repository) Create(
	ctx context.Context,
	name string,
	displayName string,
	credential *webauthn.Credential,
) (*user.User, error) {
	row, err := credentialToRow(credential)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE name = ?", name).
		Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, user.ErrUserExists
	}

	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO users (name, display_name, checked_in) VALUES (?, ?, 0)",
		name,
		displayName,
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(
		ctx,
		"INSERT INTO credentials (id, user_name, public_key, attestation_type, transport, flags, authenticator) VALUES (?, ?, ?, ?, ?, ?, ?)",
		row.id,
		name,
		row.publicKey,
		row.attestationType,
		row.transport,
		row.flags,
		row.authenticator,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user creation: %w", err)
	}

	return &user.User{
		Name:        name,
		DisplayName: displayName,
		Credentials: []webauthn.Credential{*credential},
	}, nil
}

// UpdateCredential persists the new state of a verified credential.
func (r *repository) UpdateCredential(
	ctx context.Context,
	name string,
	credential *webauthn.Credential,
) error {
	row, err := credentialToRow(credential)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(
		ctx,
		"UPDATE credentials SET public_key = ?, attestation_type = ?, transport = ?, flags = ?, authenticator = ? WHERE id = ? AND user_name = ?",
		row.publicKey,
		row.attestationType,
		row.transport,
		row.flags,
		row.authenticator,
		row.id,
		name,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetByName(ctx, name); err != nil {
			return err
		}
		return user.ErrCredentialNotFound
	}
	return nil
}

// SetCheckedIn toggles the persisted presence flag of a user.
func (r *repository) SetCheckedIn(ctx context.Context, name string, checkedIn bool) error {
	v := 0
	if checkedIn {
		v = 1
	}
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET checked_in = ? WHERE name = ?",
		v,
		name,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

// ListCheckedIn returns the names of checked-in users.
func (r *repository) ListCheckedIn(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(
		ctx,
		"SELECT name FROM users WHERE checked_in = 1 ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
