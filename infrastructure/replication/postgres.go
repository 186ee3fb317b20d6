package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// SecretsAPI is the subset of the Secrets Manager client used to resolve the DSN
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Execer runs statements. *sql.DB implements it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresSink keeps a projection of the table in Postgres: one row per item,
// holding the latest image as JSONB.
type PostgresSink struct {
	db     Execer
	table  string
	logger *zap.Logger
}

// NewPostgresSink creates a sink writing into tableName
func NewPostgresSink(db Execer, tableName string, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{db: db, table: pq.QuoteIdentifier(tableName), logger: logger}
}

// Compile-time interface check
var _ ports.ReplicationSink = (*PostgresSink)(nil)

// OpenPostgres opens a connection pool with the lib/pq driver
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the projection table when it is missing
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pk          TEXT NOT NULL,
	sk          TEXT NOT NULL,
	entity_type TEXT,
	entity_id   TEXT,
	item        JSONB NOT NULL,
	changed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pk, sk)
)`, s.table))
	if err != nil {
		return appErrors.NewDatabaseError("ensure projection schema", err)
	}
	return nil
}

// Replicate upserts the new image or deletes the row of a removed item. Older
// changes never overwrite newer rows.
func (s *PostgresSink) Replicate(ctx context.Context, record ports.ReplicationRecord) error {
	if record.EventName == ports.StreamRemove {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE pk = $1 AND sk = $2 AND changed_at <= $3`, s.table),
			record.PK, record.SK, record.ChangedAt,
		)
		if err != nil {
			return appErrors.NewDatabaseError("delete projection row", err)
		}
		return nil
	}

	item, err := json.Marshal(record.NewImage)
	if err != nil {
		return appErrors.NewInternalError("failed to encode image").WithCause(err)
	}
	entityType, _ := record.NewImage["entityType"].(string)
	entityID, _ := record.NewImage["entityId"].(string)

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %[1]s (pk, sk, entity_type, entity_id, item, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (pk, sk) DO UPDATE
SET entity_type = EXCLUDED.entity_type, entity_id = EXCLUDED.entity_id, item = EXCLUDED.item, changed_at = EXCLUDED.changed_at
WHERE %[1]s.changed_at <= EXCLUDED.changed_at`, s.table),
		record.PK, record.SK, entityType, entityID, string(item), record.ChangedAt,
	)
	if err != nil {
		s.logger.Error("Failed to project replication record",
			zap.String("pk", record.PK),
			zap.String("sk", record.SK),
			zap.Error(err),
		)
		return appErrors.NewDatabaseError("upsert projection row", err)
	}
	return nil
}

// rdsSecret is the JSON layout of an RDS managed secret
type rdsSecret struct {
	DSN      string      `json:"dsn"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	DBName   string      `json:"dbname"`
}

// LoadDSN reads the Postgres connection string from a secret. The secret holds
// either the DSN itself or RDS style JSON.
func LoadDSN(ctx context.Context, client SecretsAPI, secretID string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", appErrors.NewExternalError("secretsmanager", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	value := *out.SecretString

	var secret rdsSecret
	if err := json.Unmarshal([]byte(value), &secret); err != nil {
		return value, nil
	}
	if secret.DSN != "" {
		return secret.DSN, nil
	}
	if secret.Host == "" {
		return "", fmt.Errorf("secret %s has neither dsn nor host", secretID)
	}

	host := secret.Host
	if port, err := strconv.Atoi(secret.Port.String()); err == nil && port > 0 {
		host = fmt.Sprintf("%s:%d", secret.Host, port)
	}
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(secret.Username, secret.Password),
		Host:     host,
		Path:     "/" + secret.DBName,
		RawQuery: "sslmode=require",
	}
	return dsn.String(), nil
}
