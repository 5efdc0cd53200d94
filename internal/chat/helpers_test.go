package chat

// goldenRecords are the two records behind testdata/golden/minute_file.golden.
func goldenRecords() []Record {
	privmsg := Record{
		Payload: Payload{
			Command: "PRIVMSG",
			Host:    "h",
			Params:  []string{"#chan", "hello"},
			Sender:  "alice",
			User:    "alice",
			Tags:    map[string]string{"tmi-sent-ts": "1700000000500", "id": "msg-1"},
		},
		Time:      1700000000500,
		Receivers: Receivers{"node2": 1700000000612, "node1": 1700000000600},
	}
	join := Record{
		Payload: Payload{
			Command: "JOIN",
			Host:    "h",
			Params:  []string{"#chan"},
			Sender:  "bob",
			User:    "bob",
		},
		Time:      1700000000000,
		Range:     2500,
		Receivers: Receivers{"node1": 1700000000700},
	}
	return []Record{privmsg, join}
}
