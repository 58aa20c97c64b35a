package pointer

func NotNull[T any](source *T, defaultValue T) T {
	if source != nil {
		return *source
	}
	return defaultValue
}

func Of[T any](value T) *T {
	return &value
}
