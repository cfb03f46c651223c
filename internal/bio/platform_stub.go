//go:build !darwin

package bio

type stubCapability struct{}

func platformCapability() Capability { return stubCapability{} }

func (stubCapability) Available() bool { return false }

func (stubCapability) Authenticate(reason string) error { return ErrUnsupported }

type stubCredentials struct{}

func platformCredentials() CredentialStore { return stubCredentials{} }

func (stubCredentials) Store(account string, secret []byte) error { return ErrUnsupported }
func (stubCredentials) Load(account string) ([]byte, error)       { return nil, ErrUnsupported }
func (stubCredentials) Delete(account string) error               { return ErrUnsupported }
