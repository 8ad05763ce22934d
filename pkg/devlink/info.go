package devlink

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// InfoVersion is one name/value pair from a device info reply.
type InfoVersion struct {
	Name  string
	Value string
}

// Info is one decoded devlink device info record.
type Info struct {
	DriverName        string
	SerialNumber      string
	BoardSerialNumber string
	VersionFixed      InfoVersion
	VersionRunning    InfoVersion
	VersionStored     InfoVersion
}

var infoPolicy = policy{
	// Appeared in Linux v5.1.
	unix.DEVLINK_ATTR_INFO_DRIVER_NAME:     {kind: kindString},
	unix.DEVLINK_ATTR_INFO_SERIAL_NUMBER:   {kind: kindString, optional: true},
	unix.DEVLINK_ATTR_INFO_VERSION_FIXED:   {kind: kindNested, optional: true},
	unix.DEVLINK_ATTR_INFO_VERSION_RUNNING: {kind: kindNested, optional: true},
	unix.DEVLINK_ATTR_INFO_VERSION_STORED:  {kind: kindNested, optional: true},

	// Appeared in Linux v5.9.
	unix.DEVLINK_ATTR_INFO_BOARD_SERIAL_NUMBER: {kind: kindString, optional: true},
}

var infoVersionPolicy = policy{
	// Appeared in Linux v5.1.
	unix.DEVLINK_ATTR_INFO_VERSION_NAME:  {kind: kindString, optional: true},
	unix.DEVLINK_ATTR_INFO_VERSION_VALUE: {kind: kindString, optional: true},
}

// ParseInfo decodes one devlink info message payload.
func ParseInfo(data []byte) (*Info, error) {
	var i Info
	if err := parseInfoInto(&i, data); err != nil {
		return nil, err
	}
	return &i, nil
}

func parseInfoInto(i *Info, data []byte) error {
	f, err := parseAttrs(data, infoPolicy)
	if err != nil {
		return fmt.Errorf("info record: %w", err)
	}
	i.DriverName = f.string(unix.DEVLINK_ATTR_INFO_DRIVER_NAME)
	i.SerialNumber = f.string(unix.DEVLINK_ATTR_INFO_SERIAL_NUMBER)
	i.BoardSerialNumber = f.string(unix.DEVLINK_ATTR_INFO_BOARD_SERIAL_NUMBER)

	for _, v := range []struct {
		id  uint16
		dst *InfoVersion
	}{
		{unix.DEVLINK_ATTR_INFO_VERSION_FIXED, &i.VersionFixed},
		{unix.DEVLINK_ATTR_INFO_VERSION_RUNNING, &i.VersionRunning},
		{unix.DEVLINK_ATTR_INFO_VERSION_STORED, &i.VersionStored},
	} {
		if err := parseInfoVersion(v.dst, f, v.id); err != nil {
			return fmt.Errorf("info record: %w", err)
		}
	}
	return nil
}

func parseInfoVersion(iv *InfoVersion, f *fields, id uint16) error {
	nested, ok := f.nested(id)
	if !ok {
		iv.Name = StrNotPresent
		iv.Value = StrNotPresent
		return nil
	}
	nf, err := parseAttrs(nested, infoVersionPolicy)
	if err != nil {
		return fmt.Errorf("info version: %w", err)
	}
	iv.Name = nf.string(unix.DEVLINK_ATTR_INFO_VERSION_NAME)
	iv.Value = nf.string(unix.DEVLINK_ATTR_INFO_VERSION_VALUE)
	return nil
}
