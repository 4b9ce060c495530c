package probe

// Default returns jhead when it is installed and the in-process prober
// otherwise.
func Default(program string) Prober {
	j := Jhead{Program: program}
	if j.Available() {
		return j
	}
	return native()
}
