package adapter

import "time"

// NmapOption is a functional option for configuring a Fingerprinter
type NmapOption func(*Fingerprinter)

// WithTimeout sets the timeout for the entire nmap run
func WithTimeout(d time.Duration) NmapOption {
	return func(f *Fingerprinter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) NmapOption {
	return func(f *Fingerprinter) {
		f.serviceDetection = enabled
	}
}

// WithSkipHostDiscovery sets whether to skip ping and treat all hosts as online (-Pn).
// The hosts handed to the fingerprinter are already known to be live.
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(f *Fingerprinter) {
		f.skipHostDiscovery = skip
	}
}
