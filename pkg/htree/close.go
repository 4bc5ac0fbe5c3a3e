package htree

// Checkpoint rewrites the open spine in place and the header with the
// closed flag cleared, so a crash after it leaves a queryable file. A failed
// write breaks the tree: later mutations fail with ErrBroken while queries
// keep working.
func (t *Tree) Checkpoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.checkWritable()
	if err != nil {
		return err
	}

	err = t.persistSpine()
	if err != nil {
		t.broken = err

		return err
	}

	t.logger.Debug("history tree checkpoint written",
		"nodes", t.header.NodeCount, "tree_end", t.header.TreeEnd)

	return nil
}

// Close seals the whole spine at max(tree end, endTime), writes the final
// header and syncs the file. The tree keeps answering queries afterwards.
func (t *Tree) Close(endTime int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.checkWritable()
	if err != nil {
		return err
	}

	end := max(t.header.TreeEnd, endTime)

	for i := len(t.spine) - 1; i >= 0; i-- {
		node := t.spine[i]
		node.Seal(end)

		err = t.cache.PutSealed(node)
		if err != nil {
			t.broken = err

			return err
		}

		if i > 0 {
			t.spine[i-1].SetChildEnd(node.Sequence(), node.End())
		}
	}

	header := t.header
	header.TreeEnd = end
	header.Closed = true

	err = t.store.WriteHeader(header)
	if err == nil {
		err = t.store.Sync()
	}

	if err != nil {
		t.broken = err

		return err
	}

	t.header = header
	t.spine = nil

	t.logger.Info("history tree closed",
		"nodes", header.NodeCount, "tree_start", header.TreeStart, "tree_end", header.TreeEnd)

	return nil
}
