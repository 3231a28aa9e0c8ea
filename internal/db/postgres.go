package db

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anchor-protocol/anchor-engine/pkg/anchor"
)

// querier is the subset of pgxpool.Pool and pgx.Tx both satisfy, so every
// store method can run against the pool directly or inside a surrounding
// block transaction (WithTx) without knowing which.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore wraps a connection pool to the engine's database and
// exposes the query surface every subsystem (indexer, token ledger, lock
// manager, API) persists through.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("anchor-engine: connected to PostgreSQL")
	return &PostgresStore{pool: pool, q: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetPool exposes the connection pool to subsystems that need raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn against a store view scoped to one database transaction,
// committing if fn returns nil and rolling back otherwise. The indexer
// wraps each block's writes (messages, anchors, token/DNS effects, the
// watermark advance) in one WithTx call so a block is never partially
// committed.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(txStore *PostgresStore) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InitSchema loads and executes schema.sql, which is idempotent.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.q.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("anchor-engine: schema initialized")
	return nil
}

// --- messages & anchors (C1/C5) ---

// SaveMessage inserts a decoded message and its anchor list, returning the
// assigned message id. A duplicate (txid, vout) is left untouched — the
// indexer may re-observe the same output during reorg replay.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg anchor.Message, txid string, txidPrefix []byte, vout int, carrierType int, blockHash string, blockHeight int64) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO messages (txid, txid_prefix, vout, block_hash, block_height, kind, body, carrier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (txid, vout) DO UPDATE SET txid = EXCLUDED.txid
		RETURNING id
	`, txid, txidPrefix, vout, blockHash, blockHeight, int(msg.Kind), msg.Body, carrierType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: inserting message: %w", err)
	}

	for i, a := range msg.Anchors {
		_, err := s.q.Exec(ctx, `
			INSERT INTO anchors (message_id, index, txid_prefix, vout, is_ambiguous, is_orphan)
			VALUES ($1, $2, $3, $4, FALSE, TRUE)
			ON CONFLICT (message_id, index) DO NOTHING
		`, id, i, a.Prefix[:], a.Vout)
		if err != nil {
			return 0, fmt.Errorf("db: inserting anchor %d: %w", i, err)
		}
	}
	return id, nil
}

// ResolveAnchor fills in an anchor's resolved_txid once the resolution pass
// finds a unique match by prefix, or flags it ambiguous when more than one
// candidate shares the prefix.
func (s *PostgresStore) ResolveAnchor(ctx context.Context, messageID int64, index int, resolvedTxid string, ambiguous bool) error {
	_, err := s.q.Exec(ctx, `
		UPDATE anchors SET resolved_txid = $1, is_ambiguous = $2, is_orphan = FALSE
		WHERE message_id = $3 AND index = $4
	`, resolvedTxid, ambiguous, messageID, index)
	if err != nil {
		return fmt.Errorf("db: resolving anchor: %w", err)
	}
	return nil
}

// MarkAnchorAmbiguous flags an anchor whose prefix matches more than one
// indexed transaction. resolved_txid stays NULL — surfacing the ambiguity
// is the UI's job, picking arbitrarily is nobody's.
func (s *PostgresStore) MarkAnchorAmbiguous(ctx context.Context, messageID int64, index int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE anchors SET resolved_txid = NULL, is_ambiguous = TRUE, is_orphan = FALSE
		WHERE message_id = $1 AND index = $2
	`, messageID, index)
	if err != nil {
		return fmt.Errorf("db: marking anchor ambiguous: %w", err)
	}
	return nil
}

// MarkAnchorOrphan reverts an anchor to the unresolved state, used when a
// reorg removes every candidate its prefix previously matched.
func (s *PostgresStore) MarkAnchorOrphan(ctx context.Context, messageID int64, index int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE anchors SET resolved_txid = NULL, is_ambiguous = FALSE, is_orphan = TRUE
		WHERE message_id = $1 AND index = $2
	`, messageID, index)
	if err != nil {
		return fmt.Errorf("db: marking anchor orphan: %w", err)
	}
	return nil
}

// UnresolvedAnchor is a single still-orphan anchor awaiting resolution.
type UnresolvedAnchor struct {
	MessageID  int64
	Index      int
	TxidPrefix []byte
	Vout       int
}

func (s *PostgresStore) UnresolvedAnchors(ctx context.Context, limit int) ([]UnresolvedAnchor, error) {
	rows, err := s.q.Query(ctx, `
		SELECT message_id, index, txid_prefix, vout FROM anchors
		WHERE is_orphan = TRUE ORDER BY message_id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: querying unresolved anchors: %w", err)
	}
	defer rows.Close()

	var out []UnresolvedAnchor
	for rows.Next() {
		var a UnresolvedAnchor
		if err := rows.Scan(&a.MessageID, &a.Index, &a.TxidPrefix, &a.Vout); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AmbiguousAnchors returns anchors currently flagged ambiguous, so the
// resolver can re-classify them after a reorg removes one of the colliding
// transactions.
func (s *PostgresStore) AmbiguousAnchors(ctx context.Context, limit int) ([]UnresolvedAnchor, error) {
	rows, err := s.q.Query(ctx, `
		SELECT message_id, index, txid_prefix, vout FROM anchors
		WHERE is_ambiguous = TRUE ORDER BY message_id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: querying ambiguous anchors: %w", err)
	}
	defer rows.Close()

	var out []UnresolvedAnchor
	for rows.Next() {
		var a UnresolvedAnchor
		if err := rows.Scan(&a.MessageID, &a.Index, &a.TxidPrefix, &a.Vout); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CandidatesForPrefix returns every confirmed message's display-form txid
// whose own internal-order prefix matches, used to decide resolved vs
// ambiguous. prefix must be anchor.PrefixLen bytes of internal byte order —
// see anchor.TxidToPrefix.
func (s *PostgresStore) CandidatesForPrefix(ctx context.Context, prefix []byte) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT txid FROM messages WHERE txid_prefix = $1
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("db: querying prefix candidates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, err
		}
		out = append(out, txid)
	}
	return out, rows.Err()
}

// --- indexer state (C5) ---

type IndexerState struct {
	LastBlockHash   string
	LastBlockHeight int64
}

func (s *PostgresStore) GetIndexerState(ctx context.Context, subsystem string) (*IndexerState, error) {
	var st IndexerState
	err := s.q.QueryRow(ctx, `
		SELECT last_block_hash, last_block_height FROM indexer_state WHERE subsystem = $1
	`, subsystem).Scan(&st.LastBlockHash, &st.LastBlockHeight)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: getting indexer state %s: %w", subsystem, err)
	}
	return &st, nil
}

func (s *PostgresStore) SetIndexerState(ctx context.Context, subsystem string, blockHash string, blockHeight int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO indexer_state (subsystem, last_block_hash, last_block_height)
		VALUES ($1, $2, $3)
		ON CONFLICT (subsystem) DO UPDATE SET last_block_hash = $2, last_block_height = $3
	`, subsystem, blockHash, blockHeight)
	if err != nil {
		return fmt.Errorf("db: setting indexer state %s: %w", subsystem, err)
	}
	return nil
}

// RecordedBlockHash is one (height, hash) pair this store saw a message
// confirm under, used to locate the fork point during reorg handling.
type RecordedBlockHash struct {
	Height int64
	Hash   string
}

// RecordedBlockHashesBelow returns the distinct block hashes recorded for
// indexed messages at or below height, newest first. Heights that carried
// no ANCHOR message leave no record, which only ever makes the computed
// fork point conservative (deeper), never wrong: replay above it is
// idempotent.
func (s *PostgresStore) RecordedBlockHashesBelow(ctx context.Context, height int64, limit int) ([]RecordedBlockHash, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT block_height, block_hash FROM messages
		WHERE block_height <= $1 AND block_hash IS NOT NULL
		ORDER BY block_height DESC LIMIT $2
	`, height, limit)
	if err != nil {
		return nil, fmt.Errorf("db: querying recorded block hashes: %w", err)
	}
	defer rows.Close()

	var out []RecordedBlockHash
	for rows.Next() {
		var rb RecordedBlockHash
		if err := rows.Scan(&rb.Height, &rb.Hash); err != nil {
			return nil, err
		}
		out = append(out, rb)
	}
	return out, rows.Err()
}

// RollbackToHeight undoes everything indexed above forkHeight in one
// transaction: deletes messages (anchors cascade), token UTXOs, DNS
// records, domains, and canvas pixels recorded above the fork; un-spends
// token UTXOs whose spend happened above it; drops tokens whose deploy
// message is gone; recomputes each surviving token's supply and holder
// count from its remaining unspent set; reverts anchors resolved against
// now-deleted transactions back to orphan; and rewinds the subsystem
// watermark to (forkHeight, forkHash).
func (s *PostgresStore) RollbackToHeight(ctx context.Context, subsystem string, forkHeight int64, forkHash string) error {
	return s.WithTx(ctx, func(tx *PostgresStore) error {
		steps := []struct {
			desc string
			sql  string
		}{
			{"unspending token utxos", `
				UPDATE token_utxos SET spent_txid = NULL, spent_vout = NULL, spent_block = NULL
				WHERE spent_block > $1`},
			{"deleting token utxos", `
				DELETE FROM token_utxos WHERE block_height > $1`},
			{"deleting tokens", `
				DELETE FROM tokens WHERE deploy_txid IN (
					SELECT txid FROM messages WHERE block_height > $1)`},
			{"reactivating dns records", `
				UPDATE dns_records SET is_active = TRUE, deactivated_height = NULL
				WHERE deactivated_height > $1`},
			{"deleting dns records", `
				DELETE FROM dns_records WHERE block_height > $1`},
			{"deleting domains", `
				DELETE FROM domains WHERE block_height > $1`},
			{"deleting canvas pixels", `
				DELETE FROM canvas_pixels WHERE block_height > $1`},
			{"deleting messages", `
				DELETE FROM messages WHERE block_height > $1`},
		}
		for _, step := range steps {
			if _, err := tx.q.Exec(ctx, step.sql, forkHeight); err != nil {
				return fmt.Errorf("db: rollback %s: %w", step.desc, err)
			}
		}

		_, err := tx.q.Exec(ctx, `
			UPDATE anchors SET resolved_txid = NULL, is_ambiguous = FALSE, is_orphan = TRUE
			WHERE resolved_txid IS NOT NULL
			  AND resolved_txid NOT IN (SELECT txid FROM messages)
		`)
		if err != nil {
			return fmt.Errorf("db: rollback reverting anchors: %w", err)
		}

		_, err = tx.q.Exec(ctx, `
			UPDATE tokens SET
				current_supply = COALESCE((
					SELECT SUM(amount) FROM token_utxos
					WHERE token_id = tokens.id AND spent_txid IS NULL), 0),
				holder_count = (
					SELECT COUNT(DISTINCT owner_address) FROM token_utxos
					WHERE token_id = tokens.id AND spent_txid IS NULL AND owner_address IS NOT NULL)
		`)
		if err != nil {
			return fmt.Errorf("db: rollback recomputing token supplies: %w", err)
		}

		return tx.SetIndexerState(ctx, subsystem, forkHash, forkHeight)
	})
}

// --- pending transactions (mempool tracking) ---

func (s *PostgresStore) SavePendingTransaction(ctx context.Context, txid, subject, operation string, payloadJSON []byte, ttl time.Duration) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO pending_transactions (txid, subject, operation, payload_json, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + ($5 || ' seconds')::interval)
		ON CONFLICT (txid) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, txid, subject, operation, payloadJSON, int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("db: saving pending transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePendingTransaction(ctx context.Context, txid string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM pending_transactions WHERE txid = $1`, txid)
	return err
}

func (s *PostgresStore) PruneExpiredPending(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM pending_transactions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- tokens (C6) ---

type TokenInfo struct {
	ID            int64
	DeployTxid    string
	Ticker        string
	Decimals      int
	MaxSupply     *big.Int
	CurrentSupply *big.Int
	HolderCount   int
}

func (s *PostgresStore) CreateToken(ctx context.Context, deployTxid, ticker string, decimals int, maxSupply *big.Int) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO tokens (deploy_txid, ticker, decimals, max_supply, current_supply, holder_count)
		VALUES ($1, $2, $3, $4, 0, 0)
		RETURNING id
	`, deployTxid, ticker, decimals, maxSupply.String()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: creating token %s: %w", ticker, err)
	}
	return id, nil
}

func (s *PostgresStore) GetTokenByDeployTxid(ctx context.Context, deployTxid string) (*TokenInfo, error) {
	return s.scanToken(ctx, `SELECT id, deploy_txid, ticker, decimals, max_supply, current_supply, holder_count FROM tokens WHERE deploy_txid = $1`, deployTxid)
}

func (s *PostgresStore) GetTokenByTicker(ctx context.Context, ticker string) (*TokenInfo, error) {
	return s.scanToken(ctx, `SELECT id, deploy_txid, ticker, decimals, max_supply, current_supply, holder_count FROM tokens WHERE ticker = $1 ORDER BY id LIMIT 1`, ticker)
}

func (s *PostgresStore) GetTokenByID(ctx context.Context, id int64) (*TokenInfo, error) {
	return s.scanToken(ctx, `SELECT id, deploy_txid, ticker, decimals, max_supply, current_supply, holder_count FROM tokens WHERE id = $1`, id)
}

func (s *PostgresStore) scanToken(ctx context.Context, query string, arg any) (*TokenInfo, error) {
	var t TokenInfo
	var maxSupplyStr, curSupplyStr string
	err := s.q.QueryRow(ctx, query, arg).Scan(&t.ID, &t.DeployTxid, &t.Ticker, &t.Decimals, &maxSupplyStr, &curSupplyStr, &t.HolderCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: scanning token: %w", err)
	}
	t.MaxSupply, _ = new(big.Int).SetString(maxSupplyStr, 10)
	t.CurrentSupply, _ = new(big.Int).SetString(curSupplyStr, 10)
	return &t, nil
}

// AdjustTokenSupply adds delta (positive for mint, negative for burn) to a
// token's current_supply and refreshes its holder count.
func (s *PostgresStore) AdjustTokenSupply(ctx context.Context, tokenID int64, delta *big.Int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE tokens SET current_supply = (current_supply::numeric + $2::numeric) WHERE id = $1
	`, tokenID, delta.String())
	if err != nil {
		return fmt.Errorf("db: adjusting token supply: %w", err)
	}
	return s.refreshHolderCount(ctx, tokenID)
}

func (s *PostgresStore) refreshHolderCount(ctx context.Context, tokenID int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE tokens SET holder_count = (
			SELECT COUNT(DISTINCT owner_address) FROM token_utxos
			WHERE token_id = $1 AND spent_txid IS NULL AND owner_address IS NOT NULL
		) WHERE id = $1
	`, tokenID)
	return err
}

// CreateTokenUTXO records a new unspent token allocation produced by a
// mint, deploy premint, or transfer output.
func (s *PostgresStore) CreateTokenUTXO(ctx context.Context, tokenID int64, txid string, vout int, amount *big.Int, ownerAddress string, blockHeight int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO token_utxos (token_id, txid, vout, amount, owner_address, block_height)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid, vout) DO NOTHING
	`, tokenID, txid, vout, amount.String(), ownerAddress, blockHeight)
	if err != nil {
		return fmt.Errorf("db: creating token utxo: %w", err)
	}
	return s.refreshHolderCount(ctx, tokenID)
}

// SpendTokenUTXO marks an existing token UTXO consumed by a later
// transaction's inputs, recording the spend height so a reorg can undo it.
func (s *PostgresStore) SpendTokenUTXO(ctx context.Context, txid string, vout int, spentTxid string, spentVout int, spentBlock int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE token_utxos SET spent_txid = $3, spent_vout = $4, spent_block = $5
		WHERE txid = $1 AND vout = $2
	`, txid, vout, spentTxid, spentVout, spentBlock)
	if err != nil {
		return fmt.Errorf("db: spending token utxo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTokenUTXO(ctx context.Context, txid string, vout int) (tokenID int64, amount *big.Int, ownerAddress string, spent bool, err error) {
	var amountStr string
	var spentTxid *string
	var owner *string
	qerr := s.q.QueryRow(ctx, `
		SELECT token_id, amount, owner_address, spent_txid FROM token_utxos WHERE txid = $1 AND vout = $2
	`, txid, vout).Scan(&tokenID, &amountStr, &owner, &spentTxid)
	if qerr == pgx.ErrNoRows {
		return 0, nil, "", false, nil
	}
	if qerr != nil {
		return 0, nil, "", false, fmt.Errorf("db: getting token utxo: %w", qerr)
	}
	amount, _ = new(big.Int).SetString(amountStr, 10)
	if owner != nil {
		ownerAddress = *owner
	}
	return tokenID, amount, ownerAddress, spentTxid != nil, nil
}

// --- domains & DNS (C2/C5) ---

func (s *PostgresStore) UpsertDomain(ctx context.Context, name, ownerTxid string, ownerVout int, blockHeight int64) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO domains (name, owner_txid, owner_vout, block_height, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE SET owner_txid = $2, owner_vout = $3, block_height = $4, updated_at = NOW()
		RETURNING id
	`, name, ownerTxid, ownerVout, blockHeight).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: upserting domain %s: %w", name, err)
	}
	return id, nil
}

type DomainInfo struct {
	ID          int64
	Name        string
	OwnerTxid   string
	OwnerVout   int
	BlockHeight int64
}

func (s *PostgresStore) GetDomain(ctx context.Context, name string) (*DomainInfo, error) {
	var d DomainInfo
	err := s.q.QueryRow(ctx, `
		SELECT id, name, owner_txid, owner_vout, block_height FROM domains WHERE name = $1
	`, name).Scan(&d.ID, &d.Name, &d.OwnerTxid, &d.OwnerVout, &d.BlockHeight)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: getting domain %s: %w", name, err)
	}
	return &d, nil
}

type DNSRecordRow struct {
	ID         int64
	RecordType int
	TTL        int
	Value      []byte
	Priority   *int
	Weight     *int
	Port       *int
	Name       *string
}

func (s *PostgresStore) InsertDNSRecord(ctx context.Context, domainID int64, txid string, vout int, recordType, ttl int, value []byte, priority, weight, port *int, name *string, blockHeight int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO dns_records (domain_id, txid, vout, record_type, ttl, value, priority, weight, port, name, block_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (txid, vout) DO NOTHING
	`, domainID, txid, vout, recordType, ttl, value, priority, weight, port, name, blockHeight)
	if err != nil {
		return fmt.Errorf("db: inserting dns record: %w", err)
	}
	return nil
}

// DeactivateDNSRecords marks all prior records of a type inactive ahead of
// an Update operation replacing them. atHeight records when, so a reorg
// past it can flip the records active again.
func (s *PostgresStore) DeactivateDNSRecords(ctx context.Context, domainID int64, recordType int, atHeight int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE dns_records SET is_active = FALSE, deactivated_height = $3
		WHERE domain_id = $1 AND record_type = $2 AND is_active
	`, domainID, recordType, atHeight)
	return err
}

func (s *PostgresStore) ActiveDNSRecords(ctx context.Context, domainID int64) ([]DNSRecordRow, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, record_type, ttl, value, priority, weight, port, name
		FROM dns_records WHERE domain_id = $1 AND is_active = TRUE
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("db: listing dns records: %w", err)
	}
	defer rows.Close()

	var out []DNSRecordRow
	for rows.Next() {
		var r DNSRecordRow
		if err := rows.Scan(&r.ID, &r.RecordType, &r.TTL, &r.Value, &r.Priority, &r.Weight, &r.Port, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- locked UTXOs (C7) ---

func (s *PostgresStore) LockUTXO(ctx context.Context, txid string, vout int, reason string, assetType, assetID *string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO locked_utxos (txid, vout, reason, asset_type, asset_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (txid, vout) DO UPDATE SET reason = $3, asset_type = $4, asset_id = $5
	`, txid, vout, reason, assetType, assetID)
	return err
}

func (s *PostgresStore) UnlockUTXO(ctx context.Context, txid string, vout int, reason string) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM locked_utxos WHERE txid = $1 AND vout = $2 AND reason = $3
	`, txid, vout, reason)
	return err
}

func (s *PostgresStore) IsLocked(ctx context.Context, txid string, vout int) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM locked_utxos WHERE txid = $1 AND vout = $2)
	`, txid, vout).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db: checking lock: %w", err)
	}
	return exists, nil
}

// LockedOutpoint is one locked_utxos row as seen by the lock manager's
// sync pass.
type LockedOutpoint struct {
	Txid    string
	Vout    int
	AssetID *string
}

func (s *PostgresStore) LockedOutpointsByReason(ctx context.Context, reason string) ([]LockedOutpoint, error) {
	rows, err := s.q.Query(ctx, `
		SELECT txid, vout, asset_id FROM locked_utxos WHERE reason = $1
	`, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LockedOutpoint
	for rows.Next() {
		var lo LockedOutpoint
		if err := rows.Scan(&lo.Txid, &lo.Vout, &lo.AssetID); err != nil {
			return nil, err
		}
		out = append(out, lo)
	}
	return out, rows.Err()
}

// OwnershipOutpoint is one outpoint currently carrying ownership state
// (a domain's owner UTXO, or an unspent token allocation), with the asset
// it backs.
type OwnershipOutpoint struct {
	Txid    string
	Vout    int
	AssetID string
}

// DomainOwnerOutpoints lists the current owner outpoint of every
// registered domain.
func (s *PostgresStore) DomainOwnerOutpoints(ctx context.Context) ([]OwnershipOutpoint, error) {
	return s.scanOwnership(ctx, `SELECT owner_txid, owner_vout, name FROM domains`)
}

// UnspentTokenOutpoints lists every unspent token UTXO together with its
// token's deploy txid.
func (s *PostgresStore) UnspentTokenOutpoints(ctx context.Context) ([]OwnershipOutpoint, error) {
	return s.scanOwnership(ctx, `
		SELECT u.txid, u.vout, t.deploy_txid FROM token_utxos u
		JOIN tokens t ON t.id = u.token_id
		WHERE u.spent_txid IS NULL
	`)
}

func (s *PostgresStore) scanOwnership(ctx context.Context, query string) ([]OwnershipOutpoint, error) {
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OwnershipOutpoint
	for rows.Next() {
		var o OwnershipOutpoint
		if err := rows.Scan(&o.Txid, &o.Vout, &o.AssetID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ── Read surface for the API (C8) ───────────────────────────────────

// MessageRow is a stored envelope plus its placement, as returned to API
// callers doing a direct txid/vout lookup or a kind-filtered listing.
type MessageRow struct {
	ID          int64
	Txid        string
	Vout        int
	BlockHash   string
	BlockHeight int64
	Kind        int
	Body        []byte
	Carrier     int
	CreatedAt   time.Time
}

func (s *PostgresStore) GetMessage(ctx context.Context, txid string, vout int) (*MessageRow, error) {
	var m MessageRow
	err := s.q.QueryRow(ctx, `
		SELECT id, txid, vout, block_hash, block_height, kind, body, carrier, created_at
		FROM messages WHERE txid = $1 AND vout = $2
	`, txid, vout).Scan(&m.ID, &m.Txid, &m.Vout, &m.BlockHash, &m.BlockHeight, &m.Kind, &m.Body, &m.Carrier, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: getting message %s:%d: %w", txid, vout, err)
	}
	return &m, nil
}

// ListMessagesByKind returns the most recent messages of a kind, newest
// first, for kind-filtered browsing (e.g. every proof stamp, every
// geomarker).
func (s *PostgresStore) ListMessagesByKind(ctx context.Context, kind int, limit int) ([]MessageRow, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, txid, vout, block_hash, block_height, kind, body, carrier, created_at
		FROM messages WHERE kind = $1 ORDER BY block_height DESC, id DESC LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.Txid, &m.Vout, &m.BlockHash, &m.BlockHeight, &m.Kind, &m.Body, &m.Carrier, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PixelWrite is one (x, y, rgb) assignment to apply to the canvas
// projection; it mirrors kinds.Pixel without internal/db importing
// internal/kinds.
type PixelWrite struct {
	X, Y    int
	R, G, B int
}

// UpsertPixels applies a State message's pixel batch to the canvas
// projection, later writes at the same (x, y) winning as dictated by the
// batch's own insertion order.
func (s *PostgresStore) UpsertPixels(ctx context.Context, txid string, blockHeight int64, pixels []PixelWrite) error {
	return s.WithTx(ctx, func(tx *PostgresStore) error {
		for _, p := range pixels {
			_, err := tx.q.Exec(ctx, `
				INSERT INTO canvas_pixels (x, y, r, g, b, txid, block_height, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
				ON CONFLICT (x, y) DO UPDATE SET
					r = EXCLUDED.r, g = EXCLUDED.g, b = EXCLUDED.b,
					txid = EXCLUDED.txid, block_height = EXCLUDED.block_height,
					updated_at = NOW()
			`, p.X, p.Y, p.R, p.G, p.B, txid, blockHeight)
			if err != nil {
				return fmt.Errorf("db: upserting pixel (%d,%d): %w", p.X, p.Y, err)
			}
		}
		return nil
	})
}

// CanvasPixel is one row of the canvas projection.
type CanvasPixel struct {
	X, Y    int
	R, G, B int
	Txid    string
}

// CanvasRegion returns every set pixel within [x0,x1) x [y0,y1), for
// rendering a viewport rather than the whole 4580x4580 canvas at once.
func (s *PostgresStore) CanvasRegion(ctx context.Context, x0, y0, x1, y1 int) ([]CanvasPixel, error) {
	rows, err := s.q.Query(ctx, `
		SELECT x, y, r, g, b, txid FROM canvas_pixels
		WHERE x >= $1 AND x < $2 AND y >= $3 AND y < $4
	`, x0, x1, y0, y1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CanvasPixel
	for rows.Next() {
		var p CanvasPixel
		if err := rows.Scan(&p.X, &p.Y, &p.R, &p.G, &p.B, &p.Txid); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
