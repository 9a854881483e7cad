package panel

import (
	"fmt"
	"strings"
)

// Command endpoints.
const (
	KeyFunctionPath  = "/user/keyfunction.cgi"
	ZoneFunctionPath = "/user/zonefunction.cgi"
)

// Scene is an alarm scene the panel can be set to.
type Scene string

const (
	SceneAway   Scene = "away"
	SceneStay   Scene = "stay"
	SceneDisarm Scene = "disarm"
)

// Scenes lists the valid scenes.
var Scenes = []Scene{SceneAway, SceneStay, SceneDisarm}

// ParseScene accepts a scene name case-insensitively.
func ParseScene(s string) (Scene, error) {
	scene := Scene(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Scenes {
		if v == scene {
			return scene, nil
		}
	}
	return "", fmt.Errorf("unknown scene %q (want away, stay or disarm)", s)
}

// Key function numbers of comm=80.
const (
	FuncChime  = 1
	FuncDisarm = 16
	FuncAway   = 17
	FuncStay   = 18
)

// Function returns the key function number of the scene.
func (s Scene) Function() int {
	switch s {
	case SceneAway:
		return FuncAway
	case SceneStay:
		return FuncStay
	default:
		return FuncDisarm
	}
}

// AllAreas addresses every area at once.
const AllAreas = 0

// KeyFunction encodes a comm=80 key function for area (1-based, or
// AllAreas). Areas past the first bank also carry start=<bank>.
func KeyFunction(area, function int) string {
	mask := 255
	if area != AllAreas {
		mask = AreaMask(area)
	}
	payload := fmt.Sprintf("comm=80&data0=2&data2=%d&data1=%d", function, mask)
	if area != AllAreas && AreaBank(area) > 0 {
		payload += fmt.Sprintf("&start=%d", AreaBank(area))
	}
	return payload
}

// BypassZone encodes a comm=82 bypass toggle for zone (1-based).
func BypassZone(zone int) string {
	return fmt.Sprintf("comm=82&data0=%d", zone-1)
}
