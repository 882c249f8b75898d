package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultSysfsRoot is the kernel PWM class directory.
const DefaultSysfsRoot = "/sys/class/pwm"

// exportSettle is how long to wait for udev to create a freshly exported channel.
const exportSettle = 100 * time.Millisecond

// SysfsPWM is one channel of a pwmchip driven through sysfs attribute files.
type SysfsPWM struct {
	dir    string
	period time.Duration
}

// OpenSysfsPWM exports channel on chip (unless already exported), programs
// the period, zeroes the duty and enables the output.
func OpenSysfsPWM(root string, chip, channel int, period time.Duration) (*SysfsPWM, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if period <= 0 {
		return nil, fmt.Errorf("pwm period %v out of range", period)
	}

	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := writeAttr(chipDir, "export", strconv.Itoa(channel)); err != nil {
			return nil, err
		}
		time.Sleep(exportSettle)
	}

	p := &SysfsPWM{dir: dir, period: period}

	// duty_cycle must never exceed period, so zero it first.
	if err := writeAttr(dir, "duty_cycle", "0"); err != nil {
		return nil, err
	}
	if err := writeAttr(dir, "period", strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, err
	}
	if err := writeAttr(dir, "enable", "1"); err != nil {
		return nil, err
	}
	return p, nil
}

// DutyNanos scales an 8-bit duty onto period.
func DutyNanos(duty uint8, period time.Duration) int64 {
	return period.Nanoseconds() * int64(duty) / 255
}

// SetDuty writes the scaled duty cycle.
func (p *SysfsPWM) SetDuty(duty uint8) error {
	return writeAttr(p.dir, "duty_cycle", strconv.FormatInt(DutyNanos(duty, p.period), 10))
}

// Close zeroes and disables the channel.
func (p *SysfsPWM) Close() error {
	return errors.Join(
		writeAttr(p.dir, "duty_cycle", "0"),
		writeAttr(p.dir, "enable", "0"),
	)
}

func writeAttr(dir, name, value string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
