// Package sync implements the synchronization engine of the board.
//
// Every client intent runs the same pipeline:
//
//	frame → validate → store transaction → reload canonical state → broadcast
//
// The engine never patches state incrementally. After each successful write
// it re-reads the whole affected collection from the store, labels it with
// the board revision and hands it to the Broadcaster, so every session ends
// up holding exactly what the store holds.
//
// Failures abort the intent before anything is broadcast as success. They
// are logged and announced with an error event, delivered to every session
// or only to the originating one depending on Config.ErrorScope.
//
// Concurrency
//
// The engine holds no mutable state and is safe for concurrent use. The
// gateway calls it sequentially for the frames of one session and
// concurrently across sessions; the store transaction is the only
// serialization point, and the last commit wins.
//
// Usage
//
//	store, err := db.Open(ctx, "board.db")
//	if err != nil {
//	    return err
//	}
//	hub := gateway.NewHub(nil)
//	engine := sync.New(store, hub, nil, sync.DefaultConfig())
//
//	// Apply a frame received from session "s1".
//	_ = engine.HandleFrame(ctx, "s1", frame)
package sync
