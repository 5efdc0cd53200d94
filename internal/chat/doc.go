// Package chat defines the normalized Record model shared by every node and
// its canonical line encoding.
//
// A Record is either Identified (time_range == 0: an exact server timestamp
// and a stable id) or Ranged (time_range > 0: the event happened somewhere in
// [time, time+time_range)). The receiver map records which capture nodes saw
// the event and when; it is provenance only and never takes part in equality.
//
// Canonical line format (one record per line, keys sorted, no whitespace):
//
//	{"command":"PRIVMSG","host":"...","params":[...],"receivers":{"node":t},
//	 "sender":"...","tags":{...},"time":t,"time_range":w,"user":"..."}
//
// Times are seconds with millisecond precision, see ir.FormatSeconds.
package chat
