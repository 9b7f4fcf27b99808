package artifact

// SetBeforePublish installs a hook that runs just before a staged bundle is
// renamed into place.
func SetBeforePublish(s *Store, fn func(staging string) error) {
	s.beforePublish = fn
}
