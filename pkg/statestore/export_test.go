package statestore

// CloseFileForTest closes the underlying file so later writes fail.
func CloseFileForTest(s *Store) error {
	return s.file.Close()
}
