// Package eyes drives visual checkpoints against a visual-diff service.
//
// A case opens an Eyes session, which starts one remote session per render
// target. Each Check captures the page once and uploads it to every target in
// the background; verdicts are computed by the service after Close and read
// back through the VisualGridRunner.
package eyes

import (
	"fmt"

	"github.com/google/uuid"
)

type BrowserType string

const (
	Chrome       BrowserType = "chrome"
	Firefox      BrowserType = "firefox"
	IE11         BrowserType = "ie11"
	EdgeChromium BrowserType = "edgechromium"
	Safari       BrowserType = "safari"
)

type DeviceName string

const (
	IPhoneX  DeviceName = "iPhone X"
	Pixel2   DeviceName = "Pixel 2"
	GalaxyS5 DeviceName = "Galaxy S5"
	Nexus10  DeviceName = "Nexus 10"
	IPadPro  DeviceName = "iPad Pro"
)

type ScreenOrientation string

const (
	Portrait  ScreenOrientation = "portrait"
	Landscape ScreenOrientation = "landscape"
)

type MatchLevel string

const (
	// Strict compares what is rendered.
	Strict MatchLevel = "strict"
	// Layout compares page structure and ignores content.
	Layout MatchLevel = "layout"
)

// RenderTarget is either a desktop browser at a viewport size or an emulated
// device in an orientation.
type RenderTarget struct {
	Browser     BrowserType       `json:"browser,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Device      DeviceName        `json:"device,omitempty"`
	Orientation ScreenOrientation `json:"orientation,omitempty"`
}

func (t RenderTarget) String() string {
	if t.Device != "" {
		return fmt.Sprintf("%s %s", t.Device, t.Orientation)
	}
	return fmt.Sprintf("%s %dx%d", t.Browser, t.Width, t.Height)
}

// BatchInfo groups the results of several sessions under one name.
type BatchInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func NewBatchInfo(name string) BatchInfo {
	return BatchInfo{ID: uuid.NewString(), Name: name}
}

type Configuration struct {
	Batch      BatchInfo
	AppName    string
	TestName   string
	ServerURL  string
	APIKey     string
	MatchLevel MatchLevel
	targets    []RenderTarget
}

func NewConfiguration() *Configuration {
	return &Configuration{MatchLevel: Strict}
}

func (c *Configuration) SetBatch(batch BatchInfo) *Configuration {
	c.Batch = batch
	return c
}

func (c *Configuration) SetAppName(name string) *Configuration {
	c.AppName = name
	return c
}

func (c *Configuration) SetTestName(name string) *Configuration {
	c.TestName = name
	return c
}

func (c *Configuration) AddBrowser(width, height int, browser BrowserType) *Configuration {
	c.targets = append(c.targets, RenderTarget{Browser: browser, Width: width, Height: height})
	return c
}

func (c *Configuration) AddDeviceEmulation(device DeviceName, orientation ScreenOrientation) *Configuration {
	if orientation == "" {
		orientation = Portrait
	}
	c.targets = append(c.targets, RenderTarget{Device: device, Orientation: orientation})
	return c
}

func (c *Configuration) Targets() []RenderTarget {
	return append([]RenderTarget(nil), c.targets...)
}

func (c *Configuration) clone() *Configuration {
	cp := *c
	cp.targets = c.Targets()
	return &cp
}
