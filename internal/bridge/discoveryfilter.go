// Package bridge contains the peer adapters that glue the router to its
// collaborators: the local MIDI sequencer, the client connector, the
// server listener, and raw-MIDI character devices.
package bridge

import "regexp"

// DiscoveryFilter decides whether a name surfaced by mDNS discovery
// should trigger an automatic client connection. It mirrors
// rtpmidi_discover.name_positive_regex/name_negative_regex: an empty
// positive regex matches everything, and a negative match always wins
// over a positive one.
type DiscoveryFilter struct {
	positive *regexp.Regexp
	negative *regexp.Regexp
}

// NewDiscoveryFilter compiles the configured positive/negative patterns.
// Either may be empty, in which case that half of the filter is
// disabled (empty positive == match everything; empty negative == never
// excludes).
func NewDiscoveryFilter(positiveRegex, negativeRegex string) (*DiscoveryFilter, error) {
	f := &DiscoveryFilter{}
	if positiveRegex != "" {
		re, err := regexp.Compile(positiveRegex)
		if err != nil {
			return nil, err
		}
		f.positive = re
	}
	if negativeRegex != "" {
		re, err := regexp.Compile(negativeRegex)
		if err != nil {
			return nil, err
		}
		f.negative = re
	}
	return f, nil
}

// Allow reports whether name should be auto-connected.
func (f *DiscoveryFilter) Allow(name string) bool {
	if f.negative != nil && f.negative.MatchString(name) {
		return false
	}
	if f.positive != nil && !f.positive.MatchString(name) {
		return false
	}
	return true
}
