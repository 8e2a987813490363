// Package market provides the ledger and settlement core of a produce
// marketplace.
//
// Market is designed as a library, not a service. Sellers list inventory lots
// with a unit price and a quantity, buyers purchase with attached value, the
// platform keeps a 2% fee and the owner withdraws the accrued fees. The core
// owns product state, enforces purchase invariants and pays out through a
// pluggable settlement rail.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/market"
//	    bank "github.com/xraph/market/settlement/memory"
//	    "github.com/xraph/market/store/memory"
//	)
//
//	rail := bank.New("usd")
//	l := market.New(memory.New(),
//	    market.WithRail(rail),
//	    market.WithOwner("platform"),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	id, err := l.AddProduct(ctx, "alice", "Tomatoes", market.USD(150), 40)
//	receipt, err := l.BuyProduct(ctx, "bob", id, 3, market.USD(500))
//	fees, err := l.WithdrawFees(ctx, "platform")
//
// # Purchase semantics
//
// BuyProduct checks, in order, that the product exists, is active, is not
// being bought by its own seller, has enough units left and that the attached
// value covers unitPrice*quantity. The fee is floor(total*2/100); the seller
// receives the remainder and the buyer is refunded anything above the total.
// A lot that reaches zero units is deactivated and never comes back.
//
// # Consistency
//
// Every mutation holds a ledger-wide lock, commits its store writes and only
// then calls the settlement rail. Stores that implement store.Transactor
// (the SQL backends) commit a mutation's writes in one transaction. If the
// rail fails, the writes are reverted and the ledger is left exactly as it
// was. The context handed to the rail is marked in flight: a mutating call
// carrying that context is rejected with ErrReentrancy, while reads see the
// committed state.
//
// Plugin hooks run after the lock is released, one mutation at a time and
// in commit order.
//
// All monetary calculations use integer arithmetic in the smallest currency
// unit. Overflow is reported as ErrArithmeticOverflow, never wrapped.
//
// # Events
//
// Each committed mutation appends one event to the log: product.added,
// product.bought, fees.withdrawn or ownership.transferred. Events carry a
// TypeID and a strictly increasing sequence:
//
//	evt_01h2xcejqtf2nbrexx3vqjhp41   // Event ID
//	rcpt_01h2xcejqtf2nbrexx3vqjhp41  // Receipt ID
//	xfer_01h455vb4pex5vsknk084sn02q  // Transfer ID
//
// Plugins observe events after settlement; the relay packages publish them
// to Kafka or Redis streams.
package market
