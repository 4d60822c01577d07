// Package engine reconciles stored schedules against the live PCE.
//
// A pass loads every stored record, computes the enabled state each object
// should have at the current moment and, where the live object differs,
// writes the new state and provisions it. One-time schedules past their
// expiry disable their object, drop their annotation and are removed from
// the store at the end of the pass.
//
// Failures are isolated per record: an unreachable PCE or a rejected write
// becomes a report line and the pass continues. Only store failures abort a
// pass.
//
//	eng := engine.New(store, client,
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(metrics),
//	)
//	report, err := eng.Check(ctx, engine.CheckOptions{Source: "monitor"})
package engine
