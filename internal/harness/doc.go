// Package harness runs multi-node convergence scenarios.
//
// A scenario describes one ground-truth event stream and the partial
// capture each node made of it. The harness records every capture into its
// own store, exchanges the original minute files between all nodes,
// reconciles each node to a fixpoint and then checks that every node holds
// the same archive before evaluating the scenario's assertions.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	channel: somechan
//	max_passes: 5
//	stream:
//	  - command: PRIVMSG
//	    params: ["#somechan", "hello"]
//	    sender: alice
//	    tags: { id: m1, tmi-sent-ts: "1700000000000" }
//	    at: "1700000000.1"
//	nodes:
//	  - id: node1
//	    to: "1700000040"
//	  - id: node2
//	    from: "1700000020"
//	    delay_ms: 20
//	    events: []        # events only this node saw
//	assertions:
//	  - type: minute_count
//	    count: 2
//	  - type: receivers
//	    id: m2
//	    nodes: [node1, node2]
//
// Times are decimal seconds, as in minute files. A node receives every
// stream event whose "at" lies within [from, to], delay_ms later.
//
// # Assertion Types
//
//   - minute_count: the archive has exactly count minute files
//   - record_count: the archive (or one minute) holds count records
//   - kind_count: count records are of kind identified or ranged
//   - receivers: the record with id was received by exactly nodes
//   - conflicts: the integrity conflicts reported are exactly ids
//
// # Deterministic Testing
//
// Pass ids come from testutil.SequentialIDs and pass timestamps from a
// testutil.FakeClock, so ledger contents and golden archives are stable.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/two_node_overlap.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
