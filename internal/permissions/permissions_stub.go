//go:build !darwin

package permissions

// CheckMicrophone is a no-op on non-macOS platforms.
func CheckMicrophone() error {
	return nil
}
