package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle-ai/haggle/internal/testutil"
)

func testWatcher(t *testing.T) (*SolanaWatcher, solana.PublicKey, solana.PublicKey) {
	t.Helper()
	wallet := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	return &SolanaWatcher{
		wallet:     wallet,
		network:    "devnet",
		stableMint: mint,
		logger:     testutil.TestLogger(),
	}, wallet, mint
}

func memoTx(accounts []solana.PublicKey, memoIndex uint16, memo string) *solana.Transaction {
	return &solana.Transaction{
		Message: solana.Message{
			AccountKeys: accounts,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: memoIndex, Data: solana.Base58(memo)},
			},
		},
	}
}

func TestHasMemo(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	accounts := []solana.PublicKey{sender, solana.MemoProgramID}

	assert.True(t, hasMemo(memoTx(accounts, 1, "a1B2c3D4"), "a1B2c3D4"))
	assert.False(t, hasMemo(memoTx(accounts, 1, "different"), "a1B2c3D4"))

	// Non-memo program carrying matching bytes does not count.
	accounts[1] = solana.SystemProgramID
	assert.False(t, hasMemo(memoTx(accounts, 1, "a1B2c3D4"), "a1B2c3D4"))
}

func TestHasMemo_ExactPayloadOnly(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	accounts := []solana.PublicKey{sender, solana.MemoProgramID}

	// A payload that merely embeds a memo must not settle that deal: one
	// transaction listing two memos would otherwise pay for both.
	assert.False(t, hasMemo(memoTx(accounts, 1, "a1B2c3D4 e5F6g7H8"), "a1B2c3D4"))
	assert.False(t, hasMemo(memoTx(accounts, 1, "a1B2c3D4 e5F6g7H8"), "e5F6g7H8"))
	assert.False(t, hasMemo(memoTx(accounts, 1, "xa1B2c3D4"), "a1B2c3D4"))
	assert.True(t, hasMemo(memoTx(accounts, 1, "e5F6g7H8"), "e5F6g7H8"))
}

func TestHasMemo_V1Program(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	accounts := []solana.PublicKey{sender, memoProgramV1}
	assert.True(t, hasMemo(memoTx(accounts, 1, "a1B2c3D4"), "a1B2c3D4"))
}

func TestMatchLamports(t *testing.T) {
	w, wallet, _ := testWatcher(t)
	sender := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{sender, wallet, solana.SystemProgramID},
		},
	}
	meta := &rpc.TransactionMeta{
		// Sender pays 0.5 SOL plus 5000 lamports of fees.
		PreBalances:  []uint64{1_000_000_000, 0, 1},
		PostBalances: []uint64{499_995_000, 500_000_000, 1},
	}

	from, ok := w.matchLamports(tx, meta, 0.5)
	require.True(t, ok)
	assert.Equal(t, sender.String(), from)
}

func TestMatchLamports_WrongAmount(t *testing.T) {
	w, wallet, _ := testWatcher(t)
	sender := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{AccountKeys: []solana.PublicKey{sender, wallet}},
	}
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{1_000_000_000, 0},
		PostBalances: []uint64{900_000_000, 100_000_000},
	}

	_, ok := w.matchLamports(tx, meta, 0.5)
	assert.False(t, ok, "0.1 SOL received, 0.5 expected")
}

func TestMatchLamports_WithinTolerance(t *testing.T) {
	w, wallet, _ := testWatcher(t)
	sender := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{AccountKeys: []solana.PublicKey{sender, wallet}},
	}
	// 0.01% of 0.5 SOL is 50_000 lamports; 10_000 short still matches.
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{1_000_000_000, 0},
		PostBalances: []uint64{500_010_000, 499_990_000},
	}

	_, ok := w.matchLamports(tx, meta, 0.5)
	assert.True(t, ok)
}

func TestMatchLamports_NoCreditToWallet(t *testing.T) {
	w, wallet, _ := testWatcher(t)
	sender := solana.NewWallet().PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{AccountKeys: []solana.PublicKey{sender, wallet}},
	}
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{1_000_000_000, 500_000_000},
		PostBalances: []uint64{1_000_000_000, 500_000_000},
	}

	_, ok := w.matchLamports(tx, meta, 0.5)
	assert.False(t, ok)
}

func tokenBalance(index uint16, mint solana.PublicKey, owner solana.PublicKey, amount string, decimals uint8) rpc.TokenBalance {
	return rpc.TokenBalance{
		AccountIndex: index,
		Mint:         mint,
		Owner:        &owner,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   amount,
			Decimals: decimals,
		},
	}
}

func TestMatchToken(t *testing.T) {
	w, wallet, mint := testWatcher(t)
	buyer := solana.NewWallet().PublicKey()

	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, mint, buyer, "100000000", 6),
			tokenBalance(2, mint, wallet, "0", 6),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, mint, buyer, "50010000", 6),
			tokenBalance(2, mint, wallet, "49990000", 6),
		},
	}

	from, ok := w.matchToken(meta, 49.99)
	require.True(t, ok)
	assert.Equal(t, buyer.String(), from)
}

func TestMatchToken_OtherMintIgnored(t *testing.T) {
	w, wallet, _ := testWatcher(t)
	buyer := solana.NewWallet().PublicKey()
	otherMint := solana.NewWallet().PublicKey()

	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, otherMint, buyer, "100000000", 6),
			tokenBalance(2, otherMint, wallet, "0", 6),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, otherMint, buyer, "50000000", 6),
			tokenBalance(2, otherMint, wallet, "50000000", 6),
		},
	}

	_, ok := w.matchToken(meta, 50)
	assert.False(t, ok, "a transfer of the wrong token is not a payment")
}

func TestMatchToken_WrongAmount(t *testing.T) {
	w, wallet, mint := testWatcher(t)
	buyer := solana.NewWallet().PublicKey()

	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, mint, buyer, "100000000", 6),
			tokenBalance(2, mint, wallet, "0", 6),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, mint, buyer, "99000000", 6),
			tokenBalance(2, mint, wallet, "1000000", 6),
		},
	}

	_, ok := w.matchToken(meta, 50)
	assert.False(t, ok)
}

func TestWithinTolerance(t *testing.T) {
	want := decimal.NewFromInt(500_000_000)

	assert.True(t, withinTolerance(want, want))
	assert.True(t, withinTolerance(decimal.NewFromInt(499_960_000), want))
	assert.True(t, withinTolerance(decimal.NewFromInt(500_040_000), want))
	assert.False(t, withinTolerance(decimal.NewFromInt(499_000_000), want))
	assert.False(t, withinTolerance(decimal.NewFromInt(501_000_000), want))

	assert.True(t, withinTolerance(decimal.Zero, decimal.Zero))
	assert.False(t, withinTolerance(decimal.NewFromInt(1), decimal.Zero))
}
