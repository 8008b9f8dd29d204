package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

const (
	sqlInsertAccount = `INSERT INTO accounts(id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	sqlInsertActor   = `INSERT INTO actors(id, account_id, username, domain, name, summary, icon_url, public_key, private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectAccountByEmail = `SELECT id, email, password_hash, created_at FROM accounts WHERE email = ?`

	actorColumns = `actors.id, actors.account_id, actors.username, actors.domain, actors.name, actors.summary,
		actors.icon_url, actors.public_key, actors.private_key, actors.created_at`

	sqlSelectActorById       = `SELECT ` + actorColumns + ` FROM actors WHERE actors.id = ?`
	sqlSelectActorByUsername = `SELECT ` + actorColumns + ` FROM actors WHERE actors.username = ? AND actors.domain = ?`
	sqlSelectActorByEmail    = `SELECT ` + actorColumns + ` FROM actors
		INNER JOIN accounts ON accounts.id = actors.account_id
		WHERE accounts.email = ?`
	sqlSelectLocalActors = `SELECT ` + actorColumns + ` FROM actors ORDER BY actors.username`
)

func (db *DB) CreateAccount(ctx context.Context, params storage.CreateAccountParams) (*domain.Account, *domain.Actor, error) {
	now := time.Now().UTC()
	account := &domain.Account{
		Id:           uuid.New(),
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
	}
	actor := &domain.Actor{
		Id:         domain.ActorId(params.Domain, params.Username),
		AccountId:  account.Id,
		Username:   params.Username,
		Domain:     params.Domain,
		Name:       params.Name,
		Summary:    params.Summary,
		IconUrl:    params.IconUrl,
		PublicKey:  params.PublicKey,
		PrivateKey: params.PrivateKey,
		CreatedAt:  now,
	}

	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertAccount,
			account.Id.String(), account.Email, account.PasswordHash, storage.ToMillis(now)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlInsertActor,
			actor.Id, account.Id.String(), actor.Username, actor.Domain, actor.Name, actor.Summary,
			actor.IconUrl, actor.PublicKey, actor.PrivateKey, storage.ToMillis(now))
		return err
	})
	if isConstraint(err) {
		return nil, nil, fmt.Errorf("account %s / %s: %w", params.Email, params.Username, storage.ErrConflict)
	}
	if err != nil {
		return nil, nil, err
	}
	return account, actor, nil
}

func (db *DB) IsAccountExists(ctx context.Context, email string) (bool, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE email = ?`, email).Scan(&count)
	return count > 0, err
}

func (db *DB) IsUsernameExists(ctx context.Context, username, domain string) (bool, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actors WHERE username = ? AND domain = ?`, username, domain).Scan(&count)
	return count > 0, err
}

func (db *DB) GetAccountFromEmail(ctx context.Context, email string) (*domain.Account, error) {
	var (
		account   domain.Account
		id        string
		createdAt int64
	)
	err := db.db.QueryRowContext(ctx, sqlSelectAccountByEmail, email).
		Scan(&id, &account.Email, &account.PasswordHash, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	account.Id, _ = uuid.Parse(id)
	account.CreatedAt = storage.FromMillis(createdAt)
	return &account, nil
}

func (db *DB) GetActorFromID(ctx context.Context, id string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
}

func (db *DB) GetActorFromUsername(ctx context.Context, username, domainName string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByUsername, username, domainName))
}

func (db *DB) GetActorFromEmail(ctx context.Context, email string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByEmail, email))
}

func (db *DB) GetLocalActors(ctx context.Context) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalActors)
}

func (db *DB) queryActors(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, *actor)
	}
	return actors, rows.Err()
}

func scanActor(row scanner) (*domain.Actor, error) {
	var (
		actor     domain.Actor
		accountId string
		createdAt int64
	)
	err := row.Scan(&actor.Id, &accountId, &actor.Username, &actor.Domain, &actor.Name, &actor.Summary,
		&actor.IconUrl, &actor.PublicKey, &actor.PrivateKey, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	actor.AccountId, _ = uuid.Parse(accountId)
	actor.CreatedAt = storage.FromMillis(createdAt)
	return &actor, nil
}
