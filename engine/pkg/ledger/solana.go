package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// SolanaConfig holds everything the Solana client needs to sign and submit
// token operations. Signers are keyed by the token account address they
// control; the mint authority signs SubmitMint.
type SolanaConfig struct {
	Logger        *slog.Logger
	RPCEndpoint   string
	TokenMint     solana.PublicKey
	MintAuthority solana.PrivateKey
	// Signers maps a token account address to the private key authorized
	// to move funds out of it (pool, escrow, and in custodial deployments
	// player accounts).
	Signers map[string]solana.PrivateKey
}

func (cfg *SolanaConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPCEndpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if cfg.TokenMint.IsZero() {
		return errors.New("token mint is required")
	}
	if cfg.MintAuthority == nil {
		return errors.New("mint authority is required")
	}
	return nil
}

// SolanaClient implements Client against a Solana RPC node, moving an SPL
// token between token accounts.
type SolanaClient struct {
	log *slog.Logger
	cfg SolanaConfig
	rpc *solanarpc.Client
}

func NewSolanaClient(cfg SolanaConfig) (*SolanaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SolanaClient{
		log: cfg.Logger,
		cfg: cfg,
		rpc: solanarpc.New(cfg.RPCEndpoint),
	}, nil
}

func (c *SolanaClient) GetBalance(ctx context.Context, address string) (int64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("%w: bad address %q: %v", ErrRejectedByLedger, address, err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
	if err != nil {
		return 0, mapRPCError("get balance", err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("%w: empty balance response for %s", ErrNetwork, address)
	}
	var amount int64
	if _, err := fmt.Sscan(out.Value.Amount, &amount); err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

func (c *SolanaClient) SubmitTransfer(ctx context.Context, from, to string, amount int64) (TxRef, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: transfer amount must be positive", ErrRejectedByLedger)
	}
	fromKey, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return "", fmt.Errorf("%w: bad source address %q: %v", ErrRejectedByLedger, from, err)
	}
	toKey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("%w: bad destination address %q: %v", ErrRejectedByLedger, to, err)
	}
	signer, ok := c.cfg.Signers[from]
	if !ok {
		return "", fmt.Errorf("%w: no signer configured for %s", ErrRejectedByLedger, from)
	}

	ix := token.NewTransferInstruction(
		uint64(amount),
		fromKey,
		toKey,
		signer.PublicKey(),
		nil,
	).Build()

	return c.submit(ctx, []solana.Instruction{ix}, signer)
}

func (c *SolanaClient) SubmitMint(ctx context.Context, to string, amount int64) (TxRef, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: mint amount must be positive", ErrRejectedByLedger)
	}
	toKey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("%w: bad destination address %q: %v", ErrRejectedByLedger, to, err)
	}

	ix := token.NewMintToInstruction(
		uint64(amount),
		c.cfg.TokenMint,
		toKey,
		c.cfg.MintAuthority.PublicKey(),
		nil,
	).Build()

	return c.submit(ctx, []solana.Instruction{ix}, c.cfg.MintAuthority)
}

func (c *SolanaClient) submit(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey) (TxRef, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
	if err != nil {
		return "", mapRPCError("get latest blockhash", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", mapRPCError("send transaction", err)
	}
	c.log.Debug("solana: transaction submitted", "signature", sig.String())
	return TxRef(sig.String()), nil
}

func (c *SolanaClient) TransactionStatus(ctx context.Context, ref TxRef) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(string(ref))
	if err != nil {
		return "", fmt.Errorf("%w: bad transaction reference %q: %v", ErrRejectedByLedger, ref, err)
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", mapRPCError("get signature statuses", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return TxStatusNotFound, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return TxStatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
		return TxStatusConfirmed, nil
	default:
		return TxStatusPending, nil
	}
}

// mapRPCError folds Solana RPC failures into the engine's ledger error
// taxonomy. Anything that looks like transport trouble is ErrNetwork (outcome
// unknown); an explicit rejection from the node is ErrRejectedByLedger or,
// for balance shortfalls, ErrInsufficientFunds.
func mapRPCError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "custom program error: 0x1"):
		return fmt.Errorf("%w: %s: %v", ErrInsufficientFunds, op, err)
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrRejectedByLedger, op, err)
	}
}
