// Package harness runs sync scenarios end to end.
//
// A scenario seeds an in-memory store, captures a list of business
// mutations and lets the engine process each queued sync job, exactly as a
// worker would. The per-rule outcomes and the final store are then checked
// against assertions and, in tests, against golden snapshots.
//
// # Scenario Format
//
//	name: add_invoice
//	description: "Approved orders create an invoice"
//	batch_limit: 100            # optional
//	modules:
//	  - name: orders
//	    formConfig: { collName: _mc_orders }
//	    dataSync: [ ... ]        # stored rule form
//	seed:
//	  _mc_invoices:
//	    - { _id: i1, orderId: O0 }
//	changes:
//	  - collection: _mc_orders
//	    trigger: add
//	    actor: { id: u1, name: Ada }
//	    tenant: en-1
//	    new: { _id: o1, orderId: O1 }
//	    expect: { applied: 1 }
//	assertions:
//	  - type: document
//	    collection: _mc_invoices
//	    where: { orderId: O1 }
//	    expect: { amount: 100 }
//	    present: [ createAt ]
//	  - type: count
//	    collection: _lg_invoices
//	    count: 1
//
// # Assertion Types
//
//   - document: some document matching where has the expected values
//   - absent: no document matches where
//   - count: exactly count documents match where
//   - rule_state: the named rule ended in state (and reason) at a step
//
// Where and expect keys are field paths; a fan-out path such as
// "items[].qty" compares against the list of element values.
//
// # Deterministic Testing
//
// The clock starts at testutil.DefaultTime and advances one second per
// change. Record ids are "rec-0001", ... and reconciled element ids count up
// from 1001, so snapshots are identical across runs.
package harness
