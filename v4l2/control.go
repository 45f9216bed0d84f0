package v4l2

// CtrlID identifies a user or extended control, mirroring the V4L2 control
// ID space (see go4vl/v4l2/control.go).
type CtrlID = uint32

// CtrlValue is the value carried by a single control.
type CtrlValue = int32

// CtrlType enumerates the supported control value shapes. The legacy
// QUERYCTRL/G_CTRL/S_CTRL operation surface (§6) rejects CtrlTypeInteger64,
// CtrlTypeU8, CtrlTypeU16, and CtrlTypeU32 with ErrorInvalidArg.
type CtrlType uint32

const (
	CtrlTypeInteger CtrlType = iota
	CtrlTypeBoolean
	CtrlTypeMenu
	CtrlTypeButton
	CtrlTypeInteger64
	CtrlTypeString
	CtrlTypeU8
	CtrlTypeU16
	CtrlTypeU32
	CtrlTypeIntegerMenu
)

// IsLegacyIncompatible reports whether a control of this type is rejected
// by the legacy (non-extended) control operations.
func (t CtrlType) IsLegacyIncompatible() bool {
	switch t {
	case CtrlTypeInteger64, CtrlTypeU8, CtrlTypeU16, CtrlTypeU32:
		return true
	default:
		return false
	}
}

// CtrlClass groups related controls (user, codec, camera, ...), mirroring
// go4vl's CtrlClass.
type CtrlClass = uint32

// Control is the query+value record for one sensor control.
type Control struct {
	ID      CtrlID
	Class   CtrlClass
	Type    CtrlType
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Value   CtrlValue
}

// IsMenu reports whether the control is a menu-typed control.
func (c Control) IsMenu() bool {
	return c.Type == CtrlTypeMenu || c.Type == CtrlTypeIntegerMenu
}

// ControlMenuItem is one entry of a menu-typed control.
type ControlMenuItem struct {
	ID    uint32
	Index uint32
	Value uint32
	Name  string
}

// SceneParamID identifies a scene-mode parameter (QUERY_EXT_CTRL_SCENE and
// friends, §6); these pass through to the sensor the same way user
// controls do, under a separate ID namespace.
type SceneParamID = uint32

// SceneParam is the query record for one scene-mode parameter.
type SceneParam struct {
	ID      SceneParamID
	Type    CtrlType
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
}

// SceneParamValue is the current value of a scene-mode parameter.
type SceneParamValue = int32

// ExtControl is one entry of a multi-control extended get/set request
// (G_EXT_CTRLS / S_EXT_CTRLS and their _SCENE variants).
type ExtControl struct {
	ID    CtrlID
	Value CtrlValue
}
