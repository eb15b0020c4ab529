package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceTemplate (a.k.a. manifest) describes the schema of a device: its
// sensors, actuators, alarms, and configuration items, plus the protocol
// used to talk to it.
type DeviceTemplate struct {
	Name                   string                  `json:"name"`
	Description            string                  `json:"description"`
	Protocol               string                  `json:"protocol"`
	FirmwareUpdateProtocol string                  `json:"firmwareUpdateProtocol"`
	Sensors                []SensorManifest        `json:"sensors"`
	Actuators              []ActuatorManifest      `json:"actuators"`
	Alarms                 []AlarmManifest         `json:"alarms"`
	Configurations         []ConfigurationManifest `json:"configurations"`
	TypeParameters         map[string]string       `json:"typeParameters,omitempty"`
}

// Digest returns the canonical SHA-256 digest of the template, hex-encoded.
// Two templates are equivalent iff their digests are equal. Fields are
// hashed in a fixed order: name, description, protocol,
// firmwareUpdateProtocol, then child manifest digests in the order
// alarms, actuators, sensors, configurations (each in definition order).
func (t DeviceTemplate) Digest() string {
	h := sha256.New()

	h.Write([]byte(t.Name))
	h.Write([]byte{0})
	h.Write([]byte(t.Description))
	h.Write([]byte{0})
	h.Write([]byte(t.Protocol))
	h.Write([]byte{0})
	h.Write([]byte(t.FirmwareUpdateProtocol))
	h.Write([]byte{0})

	for _, a := range t.Alarms {
		h.Write([]byte(childDigest(a.digestFields())))
	}
	for _, a := range t.Actuators {
		h.Write([]byte(childDigest(a.digestFields())))
	}
	for _, s := range t.Sensors {
		h.Write([]byte(childDigest(s.digestFields())))
	}
	for _, c := range t.Configurations {
		h.Write([]byte(childDigest(c.digestFields())))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func childDigest(fields string) string {
	sum := sha256.Sum256([]byte(fields))
	return hex.EncodeToString(sum[:])
}

// HasReference reports whether ref names a sensor, actuator,
// configuration, or alarm slot declared in the template.
func (t DeviceTemplate) HasReference(ref string) bool {
	for _, s := range t.Sensors {
		if s.Reference == ref {
			return true
		}
	}
	for _, a := range t.Actuators {
		if a.Reference == ref {
			return true
		}
	}
	for _, c := range t.Configurations {
		if c.Reference == ref {
			return true
		}
	}
	for _, a := range t.Alarms {
		if a.Reference == ref {
			return true
		}
	}
	return false
}

// Device is the globally unique (within the platform tenant) identity bound
// to a template instance.
type Device struct {
	Key      string         `json:"key"`
	Password string         `json:"password"`
	Template DeviceTemplate `json:"template"`
}

// IsGateway reports whether this device key names the gateway itself, by
// convention the key configured at startup rather than any child device key.
func (d Device) IsGateway(gatewayKey string) bool {
	return strings.EqualFold(d.Key, gatewayKey)
}
