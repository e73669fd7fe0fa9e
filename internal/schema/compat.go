package schema

import "fmt"

// Compatible: un consumidor en la versión N lee cualquier versión <= N.
func Compatible(consumerVersion, writtenVersion int) bool {
	return writtenVersion >= 1 && writtenVersion <= consumerVersion
}

// CheckCompatible aplica la regla de compatibilidad y exige además que la
// versión escrita esté registrada; una versión desconocida se rechaza.
func (r *Registry) CheckCompatible(eventType string, consumerVersion, writtenVersion int) error {
	if !Compatible(consumerVersion, writtenVersion) {
		return fmt.Errorf("%w: %s written at v%d, consumer reads up to v%d",
			ErrIncompatibleVersion, eventType, writtenVersion, consumerVersion)
	}
	if _, err := r.Lookup(eventType, writtenVersion); err != nil {
		return err
	}
	return nil
}
