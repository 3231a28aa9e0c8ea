package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/anchor-protocol/anchor-engine/internal/db"
	"github.com/anchor-protocol/anchor-engine/internal/kinds"
)

// fakeStore is an in-memory Store so the Deploy/Mint/Transfer/Burn rules
// can be exercised without Postgres.
type fakeStore struct {
	nextTokenID int64
	tokens      map[int64]*db.TokenInfo
	byDeploy    map[string]int64
	utxos       map[string]*fakeUTXO
}

type fakeUTXO struct {
	tokenID int64
	amount  *big.Int
	spent   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens:   make(map[int64]*db.TokenInfo),
		byDeploy: make(map[string]int64),
		utxos:    make(map[string]*fakeUTXO),
	}
}

func outpointKey(txid string, vout int) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

func (s *fakeStore) CreateToken(_ context.Context, deployTxid, ticker string, decimals int, maxSupply *big.Int) (int64, error) {
	s.nextTokenID++
	id := s.nextTokenID
	s.tokens[id] = &db.TokenInfo{
		ID:            id,
		DeployTxid:    deployTxid,
		Ticker:        ticker,
		Decimals:      decimals,
		MaxSupply:     new(big.Int).Set(maxSupply),
		CurrentSupply: big.NewInt(0),
	}
	s.byDeploy[deployTxid] = id
	return id, nil
}

func (s *fakeStore) GetTokenByDeployTxid(_ context.Context, deployTxid string) (*db.TokenInfo, error) {
	id, ok := s.byDeploy[deployTxid]
	if !ok {
		return nil, nil
	}
	return s.tokens[id], nil
}

func (s *fakeStore) GetTokenByID(_ context.Context, id int64) (*db.TokenInfo, error) {
	return s.tokens[id], nil
}

func (s *fakeStore) CreateTokenUTXO(_ context.Context, tokenID int64, txid string, vout int, amount *big.Int, _ string, _ int64) error {
	s.utxos[outpointKey(txid, vout)] = &fakeUTXO{tokenID: tokenID, amount: new(big.Int).Set(amount)}
	return nil
}

func (s *fakeStore) SpendTokenUTXO(_ context.Context, txid string, vout int, _ string, _ int, _ int64) error {
	u, ok := s.utxos[outpointKey(txid, vout)]
	if !ok {
		return fmt.Errorf("fakeStore: no utxo %s:%d", txid, vout)
	}
	u.spent = true
	return nil
}

func (s *fakeStore) GetTokenUTXO(_ context.Context, txid string, vout int) (int64, *big.Int, string, bool, error) {
	u, ok := s.utxos[outpointKey(txid, vout)]
	if !ok {
		return 0, nil, "", false, nil
	}
	return u.tokenID, new(big.Int).Set(u.amount), "", u.spent, nil
}

func (s *fakeStore) AdjustTokenSupply(_ context.Context, tokenID int64, delta *big.Int) error {
	t, ok := s.tokens[tokenID]
	if !ok {
		return fmt.Errorf("fakeStore: no token %d", tokenID)
	}
	t.CurrentSupply = new(big.Int).Add(t.CurrentSupply, delta)
	return nil
}

func deployFOO(t *testing.T, l *Ledger, store *fakeStore) *db.TokenInfo {
	t.Helper()
	_, err := l.Apply(context.Background(), "D", 100, kinds.TokenPayload{
		Op:         kinds.TokenOpDeploy,
		Ticker:     "FOO",
		Decimals:   0,
		MaxSupply:  big.NewInt(1000),
		MintAmount: big.NewInt(0),
	}, nil)
	if err != nil {
		t.Fatalf("Apply(deploy): %v", err)
	}
	tok, _ := store.GetTokenByDeployTxid(context.Background(), "D")
	if tok == nil {
		t.Fatal("deploy did not create a token record")
	}
	return tok
}

func mint(t *testing.T, l *Ledger, txid string, amount int64, vout uint8, parent OutpointRef) {
	t.Helper()
	_, err := l.Apply(context.Background(), txid, 101, kinds.TokenPayload{
		Op:         kinds.TokenOpMint,
		Ticker:     "FOO",
		Amount:     big.NewInt(amount),
		OutputVout: vout,
	}, []OutpointRef{parent})
	if err != nil {
		t.Fatalf("Apply(mint %s): %v", txid, err)
	}
}

// TestTransferChainAcrossHops walks spec.md §8 scenario 4 and then one hop
// further: a second transfer spending the first transfer's output. The
// token's identity must come from the spent UTXO's token_id, not from
// assuming the anchor points at the deploy transaction — the second hop's
// anchor resolves to a transfer txid, which has no token record of its own.
func TestTransferChainAcrossHops(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	l := New(store)

	tok := deployFOO(t, l, store)
	mint(t, l, "M", 100, 1, OutpointRef{Txid: "D"})

	if tok.CurrentSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply after mint = %s, want 100", tok.CurrentSupply)
	}

	effects, err := l.Apply(ctx, "T1", 102, kinds.TokenPayload{
		Op:     kinds.TokenOpTransfer,
		Ticker: "FOO",
		Allocations: []kinds.TokenAllocation{
			{OutputVout: 1, Amount: big.NewInt(60)},
			{OutputVout: 2, Amount: big.NewInt(30)},
		},
	}, []OutpointRef{{Txid: "M", Vout: 1}})
	if err != nil {
		t.Fatalf("Apply(transfer T1): %v", err)
	}
	if effects.InputsSpent != 1 || effects.OutputsMade != 2 {
		t.Fatalf("T1 effects = %+v, want 1 input spent, 2 outputs", effects)
	}
	if effects.ImplicitBurn.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("T1 implicit burn = %s, want 10", effects.ImplicitBurn)
	}
	if tok.CurrentSupply.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("supply after T1 = %s, want 90", tok.CurrentSupply)
	}
	if !store.utxos["M:1"].spent {
		t.Fatal("T1 did not spend M:1")
	}

	// Second hop: the anchor resolves to T1 — a transfer, not a deploy.
	effects, err = l.Apply(ctx, "T2", 103, kinds.TokenPayload{
		Op:     kinds.TokenOpTransfer,
		Ticker: "FOO",
		Allocations: []kinds.TokenAllocation{
			{OutputVout: 1, Amount: big.NewInt(50)},
		},
	}, []OutpointRef{{Txid: "T1", Vout: 1}})
	if err != nil {
		t.Fatalf("Apply(transfer T2): %v", err)
	}
	if effects.TokenID != tok.ID || effects.DeployTxid != "D" {
		t.Fatalf("T2 resolved to token %d/%s, want %d/D", effects.TokenID, effects.DeployTxid, tok.ID)
	}
	if effects.ImplicitBurn.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("T2 implicit burn = %s, want 10", effects.ImplicitBurn)
	}
	if tok.CurrentSupply.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("supply after T2 = %s, want 80", tok.CurrentSupply)
	}
	if !store.utxos["T1:1"].spent || store.utxos["T1:2"].spent {
		t.Fatal("T2 must spend T1:1 and leave T1:2 unspent")
	}
}

func TestTransferRejectsCrossTokenInputs(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	l := New(store)

	deployFOO(t, l, store)
	mint(t, l, "MF", 50, 1, OutpointRef{Txid: "D"})

	if _, err := l.Apply(ctx, "D2", 100, kinds.TokenPayload{
		Op:         kinds.TokenOpDeploy,
		Ticker:     "BAR",
		MaxSupply:  big.NewInt(1000),
		MintAmount: big.NewInt(50),
	}, nil); err != nil {
		t.Fatalf("Apply(deploy BAR): %v", err)
	}

	_, err := l.Apply(ctx, "T", 102, kinds.TokenPayload{
		Op:          kinds.TokenOpTransfer,
		Ticker:      "FOO",
		Allocations: []kinds.TokenAllocation{{OutputVout: 1, Amount: big.NewInt(10)}},
	}, []OutpointRef{{Txid: "MF", Vout: 1}, {Txid: "D2", Vout: 1}})
	if !errors.Is(err, ErrCrossToken) {
		t.Fatalf("err = %v, want ErrCrossToken", err)
	}
	if store.utxos["MF:1"].spent || store.utxos["D2:1"].spent {
		t.Fatal("a rejected transfer must not spend any input")
	}
}

func TestTransferRejectsDuplicateInput(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	deployFOO(t, l, store)
	mint(t, l, "M", 100, 1, OutpointRef{Txid: "D"})

	_, err := l.Apply(context.Background(), "T", 102, kinds.TokenPayload{
		Op:          kinds.TokenOpTransfer,
		Ticker:      "FOO",
		Allocations: []kinds.TokenAllocation{{OutputVout: 1, Amount: big.NewInt(100)}},
	}, []OutpointRef{{Txid: "M", Vout: 1}, {Txid: "M", Vout: 1}})
	if !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("err = %v, want ErrDuplicateInput", err)
	}
}

func TestTransferRejectsNonTokenAnchor(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	deployFOO(t, l, store)

	_, err := l.Apply(context.Background(), "T", 102, kinds.TokenPayload{
		Op:          kinds.TokenOpTransfer,
		Ticker:      "FOO",
		Allocations: []kinds.TokenAllocation{{OutputVout: 1, Amount: big.NewInt(1)}},
	}, []OutpointRef{{Txid: "NOTAUTXO", Vout: 0}})
	if !errors.Is(err, ErrNotTokenUTXO) {
		t.Fatalf("err = %v, want ErrNotTokenUTXO", err)
	}
}

func TestTransferRejectsSpentInput(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	l := New(store)
	deployFOO(t, l, store)
	mint(t, l, "M", 100, 1, OutpointRef{Txid: "D"})

	if _, err := l.Apply(ctx, "T1", 102, kinds.TokenPayload{
		Op:          kinds.TokenOpTransfer,
		Ticker:      "FOO",
		Allocations: []kinds.TokenAllocation{{OutputVout: 1, Amount: big.NewInt(100)}},
	}, []OutpointRef{{Txid: "M", Vout: 1}}); err != nil {
		t.Fatalf("Apply(T1): %v", err)
	}

	_, err := l.Apply(ctx, "T2", 103, kinds.TokenPayload{
		Op:          kinds.TokenOpTransfer,
		Ticker:      "FOO",
		Allocations: []kinds.TokenAllocation{{OutputVout: 1, Amount: big.NewInt(1)}},
	}, []OutpointRef{{Txid: "M", Vout: 1}})
	if !errors.Is(err, ErrInputSpent) {
		t.Fatalf("err = %v, want ErrInputSpent", err)
	}
}

func TestMintRejectsExceedingMaxSupply(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	deployFOO(t, l, store)
	mint(t, l, "M1", 900, 1, OutpointRef{Txid: "D"})

	_, err := l.Apply(context.Background(), "M2", 102, kinds.TokenPayload{
		Op:         kinds.TokenOpMint,
		Ticker:     "FOO",
		Amount:     big.NewInt(200),
		OutputVout: 1,
	}, []OutpointRef{{Txid: "D"}})
	if err == nil {
		t.Fatal("expected max-supply error")
	}
}

func TestBurnSpendsAnchoredUTXO(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	l := New(store)
	tok := deployFOO(t, l, store)
	mint(t, l, "M", 100, 1, OutpointRef{Txid: "D"})

	effects, err := l.Apply(ctx, "B", 102, kinds.TokenPayload{
		Op:     kinds.TokenOpBurn,
		Ticker: "FOO",
		Amount: big.NewInt(40),
	}, []OutpointRef{{Txid: "M", Vout: 1}})
	if err != nil {
		t.Fatalf("Apply(burn): %v", err)
	}
	if effects.ImplicitBurn.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("burn recorded %s, want 40", effects.ImplicitBurn)
	}
	if tok.CurrentSupply.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("supply after burn = %s, want 60", tok.CurrentSupply)
	}
	change := store.utxos["B:1"]
	if change == nil || change.amount.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("burn change utxo = %+v, want 60 at B:1", change)
	}
}
