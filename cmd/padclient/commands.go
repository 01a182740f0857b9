package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/apexskier/dolphin-controller-sub000/pkg/controller"
	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/shell"
)

type session interface {
	Connect(endpoint controller.Endpoint)
	Reconnect()
	Pick(slot uint8) error
	Send(line string)
	SendControllerData(data *dsu.ControllerData)
	State() controller.ClientState
	Endpoint() controller.Endpoint
	Slot() (uint8, bool)
}

var errUsage = errors.New("usage: connect <host:port|service:Name>, pick <1-4>, send <cmd>, tilt <x> <y> <z>, reconnect, status, quit")

// handleLine runs one stdin command, returns true for quit
func handleLine(s session, line string) (bool, error) {
	args := shell.QuoteSplit(line)
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "connect":
		if len(args) != 2 {
			return false, errUsage
		}
		endpoint, err := controller.ParseEndpoint(args[1])
		if err != nil {
			return false, err
		}
		s.Connect(endpoint)

	case "reconnect":
		s.Reconnect()

	case "pick":
		if len(args) != 2 {
			return false, errUsage
		}
		i, err := strconv.Atoi(args[1])
		if err != nil || i < 1 || i > 8 {
			return false, fmt.Errorf("wrong slot: %s", args[1])
		}
		return false, s.Pick(uint8(i - 1))

	case "send":
		if len(args) < 2 {
			return false, errUsage
		}
		s.Send(strings.Join(args[1:], " "))

	case "tilt":
		if len(args) != 4 {
			return false, errUsage
		}
		data := &dsu.ControllerData{Connected: true}
		for i, arg := range args[1:] {
			f, err := strconv.ParseFloat(arg, 32)
			if err != nil {
				return false, err
			}
			data.Accel[i] = float32(f)
		}
		s.SendControllerData(data)

	case "status":
		fmt.Println(statusString(s))

	case "quit", "exit":
		return true, nil

	default:
		return false, errUsage
	}

	return false, nil
}

func statusString(s session) string {
	str := s.State().String()
	if endpoint := s.Endpoint(); !endpoint.IsZero() {
		str += " " + endpoint.String()
	}
	if slot, ok := s.Slot(); ok {
		str += " slot=" + strconv.Itoa(int(slot)+1)
	}
	return str
}
