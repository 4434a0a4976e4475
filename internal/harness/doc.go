// Package harness runs end-to-end pipeline scenarios.
//
// A scenario seeds the queue with proposals, drives stages and cycles in a
// fixed order, and checks the resulting audit trail and queue contents.
// Every run gets a fresh temporary base directory, a frozen clock,
// sequential identifiers and a recording command runner, so the audit
// trail is identical across runs and can be compared to a golden file.
//
// # Scenario Format
//
//	name: process_failure_deployed
//	description: "A crashed process gets a restart script that is deployed"
//	policy:                 # optional overrides of the default policy
//	  max_retries: 2
//	runner:                 # optional canned command results
//	  - command: bash
//	    exit_code: 0
//	findings: []            # what discovery probes report
//	setup:
//	  - propose: { kind: process_failure, component: api, process: { ... } }
//	  - halt: "maintenance"
//	flow:
//	  - stage: implementation
//	    expect: { ok: true, counts: { implemented: 1 } }
//	  - cycle: true
//	  - tamper: { staging_id: stg_0001, file: restart.sh, append: "chmod 777 /" }
//	  - resume: true
//	assertions:
//	  - type: trace_contains
//	    stage: governance
//	    event: deployed
//	  - type: trace_order
//	    events: ["implementation:claimed", "governance:deployed"]
//	  - type: trace_count
//	    stage: implementation
//	    event: claimed
//	    count: 1
//	  - type: final_state
//	    table: proposals
//	    where: { id: prop_0001 }
//	    expect: { status: implemented }
//
// # Tables
//
// final_state reads queue records as JSON objects: proposals, reports,
// deployments, escalations and terminal (one row per staging id with its
// terminal state, "none" when still open).
package harness
