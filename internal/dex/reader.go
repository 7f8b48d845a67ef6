package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"alphavault/internal/chain"
	"alphavault/internal/model"
)

// PoolReader reads live state from one V3 pool contract. Immutable
// metadata is fetched once at construction; price and oracle reads go
// to the chain on every call.
type PoolReader struct {
	chain *chain.Client
	addr  common.Address
	meta  model.PoolMeta
}

// NewPoolReader returns a reader bound to the address. Immutable
// metadata comes from poolCache when present, otherwise it is fetched
// from chain and cached for the next reader on the same pool.
func NewPoolReader(ctx context.Context, chainClient *chain.Client, pool common.Address, poolCache *PoolMetaCache, tokenCache *TokenMetaCache, logger *zap.Logger) (*PoolReader, error) {
	if poolCache != nil {
		if meta, ok := poolCache.Get(pool); ok {
			return &PoolReader{
				chain: chainClient,
				addr:  pool,
				meta:  meta,
			}, nil
		}
	}
	meta, err := FetchPoolMeta(ctx, chainClient, pool, tokenCache, logger)
	if err != nil {
		return nil, fmt.Errorf("fetch pool meta: %w", err)
	}
	if poolCache != nil {
		poolCache.Set(pool, meta)
	}
	return &PoolReader{
		chain: chainClient,
		addr:  pool,
		meta:  meta,
	}, nil
}

func (r *PoolReader) Address() common.Address { return r.addr }

func (r *PoolReader) Meta() model.PoolMeta { return r.meta }

func (r *PoolReader) TickSpacing() int { return int(r.meta.TickSpacing) }

// Slot0 returns the current sqrt price (Q64.96) and tick.
func (r *PoolReader) Slot0(ctx context.Context) (*big.Int, int, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callPoolMethod(ctx, r.chain, r.addr, poolABI, "slot0", nil)
	if err != nil {
		return nil, 0, err
	}
	if len(values) < 2 {
		return nil, 0, fmt.Errorf("slot0: short response")
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return nil, 0, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return nil, 0, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return nil, 0, fmt.Errorf("slot0 tick: %w", err)
	}
	return sqrtPrice, int(tick), nil
}

// Liquidity returns the pool's in-range liquidity.
func (r *PoolReader) Liquidity(ctx context.Context) (*big.Int, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callPoolMethod(ctx, r.chain, r.addr, poolABI, "liquidity", nil)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// TwapTick returns the time-weighted average tick over the last
// secondsAgo seconds, read from the pool's observation oracle.
func (r *PoolReader) TwapTick(ctx context.Context, secondsAgo int64) (int, error) {
	if secondsAgo <= 0 {
		_, tick, err := r.Slot0(ctx)
		return tick, err
	}
	if secondsAgo > int64(^uint32(0)) {
		return 0, fmt.Errorf("twap duration %d out of range", secondsAgo)
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return 0, fmt.Errorf("parse pool abi: %w", err)
	}
	secondsAgos := []uint32{uint32(secondsAgo), 0}
	values, err := callPoolMethod(ctx, r.chain, r.addr, poolABI, "observe", nil, secondsAgos)
	if err != nil {
		return 0, err
	}
	cumulatives, ok := values[0].([]*big.Int)
	if !ok || len(cumulatives) < 2 {
		return 0, fmt.Errorf("observe: unexpected response type %T", values[0])
	}

	delta := new(big.Int).Sub(cumulatives[1], cumulatives[0])
	window := big.NewInt(secondsAgo)
	avg, rem := new(big.Int).QuoRem(delta, window, new(big.Int))
	// Round toward negative infinity, matching the on-chain oracle
	// library.
	if rem.Sign() < 0 {
		avg.Sub(avg, big.NewInt(1))
	}
	tick, err := int24FromBig(avg)
	if err != nil {
		return 0, fmt.Errorf("twap tick: %w", err)
	}
	return int(tick), nil
}
