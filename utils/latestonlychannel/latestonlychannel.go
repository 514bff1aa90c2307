package latestonlychannel

// Wrap pipes inputCh to a new channel while guaranteeing that a slow reader
// never blocks the writer: whenever a newer value arrives before the current
// one was consumed, the older value is discarded. Closing the input channel
// releases the pipe.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
	MainLoop:
		for {
			latest, ok := <-inputCh
			if !ok {
				break MainLoop
			}

		SendLoop:
			for {
				select {
				case outputCh <- latest:
					// sent without anything newer arriving, go back to
					// blocking on the input.
					break SendLoop
				case updated, ok := <-inputCh:
					if !ok {
						break MainLoop
					}
					latest = updated
				}
			}
		}

		close(outputCh)
	}()

	return outputCh
}
